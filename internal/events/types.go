package events

import "time"

const (
	TypeAppointmentBooked  = "appointment.booked"
	TypeAppointmentUpdated = "appointment.updated"
	TypeAppointmentDeleted = "appointment.deleted"
	TypeMeetingOrphanRoom  = "meeting.orphan_room"
)

// AppointmentEventV1 is the payload of every appointment.* event.
type AppointmentEventV1 struct {
	AppointmentID       string    `json:"appointment_id"`
	PatientID           string    `json:"patient_id"`
	DoctorID            string    `json:"doctor_id"`
	AppointmentDateTime time.Time `json:"appointment_date_time"`
	Status              string    `json:"status"`
	MeetingID           string    `json:"meeting_id,omitempty"`
	PreviousStatus      string    `json:"previous_status,omitempty"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// OrphanRoomV1 records a provider room that has no local owner and must be
// removed at the provider.
type OrphanRoomV1 struct {
	RoomID        string    `json:"room_id"`
	OwnerID       string    `json:"owner_id,omitempty"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason"`
	DetectedAt    time.Time `json:"detected_at"`
}
