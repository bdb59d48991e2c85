// Package appointments owns the Appointment entity: booking, lifecycle
// updates, deletion and the patient/doctor views over it.
package appointments

import (
	"strings"
	"time"

	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts only the enumerated values.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return s, true
	}
	return "", false
}

// Terminal reports whether no transition is defined out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment is a booked slot between a patient and a doctor. MeetingID and
// MeetingToken are set once at creation.
type Appointment struct {
	ID                  string    `json:"id"`
	PatientID           string    `json:"patientId"`
	DoctorID            string    `json:"doctorId"`
	AppointmentDateTime time.Time `json:"appointmentDateTime"`
	Status              Status    `json:"status"`
	PhoneNumber         *string   `json:"phoneNumber,omitempty"`
	AdditionalNotes     *string   `json:"additionalNotes,omitempty"`
	MeetingID           string    `json:"meetingId"`
	MeetingToken        string    `json:"meetingToken"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	if a.PhoneNumber != nil {
		v := *a.PhoneNumber
		cp.PhoneNumber = &v
	}
	if a.AdditionalNotes != nil {
		v := *a.AdditionalNotes
		cp.AdditionalNotes = &v
	}
	return &cp
}

// CreateRequest is the booking input.
type CreateRequest struct {
	PatientID           string  `json:"patientId"`
	DoctorID            string  `json:"doctorId"`
	AppointmentDateTime string  `json:"appointmentDateTime"`
	PhoneNumber         *string `json:"phoneNumber,omitempty"`
	AdditionalNotes     *string `json:"additionalNotes,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	PatientID           *string `json:"patientId,omitempty"`
	DoctorID            *string `json:"doctorId,omitempty"`
	MeetingID           *string `json:"meetingId,omitempty"`
	MeetingToken        *string `json:"meetingToken,omitempty"`
	Status              *string `json:"status,omitempty"`
	AppointmentDateTime *string `json:"appointmentDateTime,omitempty"`
	PhoneNumber         *string `json:"phoneNumber,omitempty"`
	AdditionalNotes     *string `json:"additionalNotes,omitempty"`
}

// Booking is the result of a successful create.
type Booking struct {
	Appointment *Appointment      `json:"appointment"`
	Meeting     *meetings.Meeting `json:"meeting"`
}

// Detailed is an appointment joined with display data from the directory.
type Detailed struct {
	*Appointment
	Patient *directory.Patient `json:"patient,omitempty"`
	Doctor  *directory.Doctor  `json:"doctor,omitempty"`
}

// DoctorSummary is the denormalised doctor shown on a patient's appointment list.
type DoctorSummary struct {
	DoctorID  string `json:"doctorId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Specialty string `json:"specialty,omitempty"`
}

// PatientAppointment is one entry of a patient's appointment list.
type PatientAppointment struct {
	*Appointment
	Doctor *DoctorSummary `json:"doctor"`
}

// PatientAppointments is the patient view: the profile plus all appointments.
type PatientAppointments struct {
	Patient      *directory.Patient   `json:"patient"`
	Appointments []PatientAppointment `json:"appointments"`
}

// RosterEntry is one patient on a doctor's roster, keyed by their latest appointment.
type RosterEntry struct {
	PatientID           string     `json:"patientId"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	DateOfBirth         *time.Time `json:"dateOfBirth,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	Address             string     `json:"address,omitempty"`
	Gender              string     `json:"gender,omitempty"`
	LastAppointmentID   string     `json:"lastAppointmentId"`
	LastAppointmentDate time.Time  `json:"lastAppointmentDate"`
	LastStatus          Status     `json:"lastStatus"`
	AdditionalNotes     *string    `json:"additionalNotes,omitempty"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PatientID string
	DoctorID  string
	Status    Status
	From      *time.Time
	To        *time.Time
	Limit     int
}

func (f ListFilter) matches(a *Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.From != nil && a.AppointmentDateTime.Before(*f.From) {
		return false
	}
	if f.To != nil && !a.AppointmentDateTime.Before(*f.To) {
		return false
	}
	return true
}

func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
