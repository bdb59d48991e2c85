package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/internal/events"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// AppointmentNotifier emails both participants when an appointment is booked
// or cancelled.
type AppointmentNotifier struct {
	email    EmailSender
	dir      directory.Directory
	location *time.Location
	logger   *logging.Logger
}

func NewAppointmentNotifier(email EmailSender, dir directory.Directory, loc *time.Location, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AppointmentNotifier{email: email, dir: dir, location: loc, logger: logger}
}

// Handle implements events.DeliveryHandler for appointment.* entries.
func (n *AppointmentNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var evt events.AppointmentEventV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		n.logger.Error("notify: undecodable appointment event", "error", err, "event_id", entry.ID.String())
		return nil
	}
	switch {
	case entry.Type == events.TypeAppointmentBooked:
		return n.NotifyBooked(ctx, evt)
	case entry.Type == events.TypeAppointmentUpdated && evt.Status == "cancelled" && evt.PreviousStatus != "cancelled":
		return n.NotifyCancelled(ctx, evt)
	}
	return nil
}

// NotifyBooked sends the booking confirmation.
func (n *AppointmentNotifier) NotifyBooked(ctx context.Context, evt events.AppointmentEventV1) error {
	return n.notify(ctx, evt, "Appointment confirmed", "is confirmed", "appointment_booked")
}

// NotifyCancelled sends the cancellation notice.
func (n *AppointmentNotifier) NotifyCancelled(ctx context.Context, evt events.AppointmentEventV1) error {
	return n.notify(ctx, evt, "Appointment cancelled", "has been cancelled", "appointment_cancelled")
}

func (n *AppointmentNotifier) notify(ctx context.Context, evt events.AppointmentEventV1, subject, verb, category string) error {
	if n.email == nil {
		n.logger.Debug("notify: email sender not configured, skipping", "appointment_id", evt.AppointmentID)
		return nil
	}
	patient, err := n.dir.GetPatient(ctx, evt.PatientID)
	if err != nil {
		return fmt.Errorf("notify: get patient: %w", err)
	}
	doctor, err := n.dir.GetDoctor(ctx, evt.DoctorID)
	if err != nil {
		return fmt.Errorf("notify: get doctor: %w", err)
	}

	when := evt.AppointmentDateTime.In(n.location).Format("Mon Jan 2, 2006 at 3:04 PM MST")
	doctorName, patientName := "your doctor", "your patient"
	if doctor != nil {
		doctorName = strings.TrimSpace("Dr. " + doctor.FirstName + " " + doctor.LastName)
	}
	if patient != nil {
		patientName = strings.TrimSpace(patient.FirstName + " " + patient.LastName)
	}

	var recipients []EmailMessage
	if patient != nil && patient.Email != "" {
		line := fmt.Sprintf("Your video appointment with %s on %s %s.", doctorName, when, verb)
		recipients = append(recipients, n.message(patient.Email, patientName, subject, line, evt, category))
	}
	if doctor != nil && doctor.Email != "" {
		line := fmt.Sprintf("Your video appointment with %s on %s %s.", patientName, when, verb)
		recipients = append(recipients, n.message(doctor.Email, doctorName, subject, line, evt, category))
	}
	if len(recipients) == 0 {
		n.logger.Info("notify: no email recipients", "appointment_id", evt.AppointmentID)
		return nil
	}

	var errs []error
	for _, msg := range recipients {
		if err := n.email.Send(ctx, msg); err != nil {
			n.logger.Error("notify: failed to send email", "error", err, "to", msg.To, "appointment_id", evt.AppointmentID)
			errs = append(errs, err)
			continue
		}
		n.logger.Info("notify: appointment email sent", "to", msg.To, "appointment_id", evt.AppointmentID, "category", category)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (n *AppointmentNotifier) message(to, name, subject, line string, evt events.AppointmentEventV1, category string) EmailMessage {
	body := line
	if evt.MeetingID != "" {
		body += "\n\nMeeting ID: " + evt.MeetingID
	}
	body += "\nAppointment ID: " + evt.AppointmentID

	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, "<h2>%s</h2><p>%s</p>", html.EscapeString(subject), html.EscapeString(line))
	if evt.MeetingID != "" {
		fmt.Fprintf(&b, "<p><strong>Meeting ID:</strong> %s</p>", html.EscapeString(evt.MeetingID))
	}
	b.WriteString("</div>")

	return EmailMessage{To: to, ToName: name, Subject: subject, Body: body, HTML: b.String(), Category: category}
}

var _ events.DeliveryHandler = (*AppointmentNotifier)(nil)
