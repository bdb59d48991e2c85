package appointments

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/counterpart"
	"github.com/wolfman30/telehealth-booking/internal/directory"
	"github.com/wolfman30/telehealth-booking/internal/events"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/internal/observability/metrics"
	"github.com/wolfman30/telehealth-booking/internal/scheduling"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

var appointmentsTracer = otel.Tracer("telehealth.internal.appointments")

// MeetingProvisioner creates and releases meeting rooms.
type MeetingProvisioner interface {
	Provision(ctx context.Context, ownerID string, scheduledTime time.Time) (*meetings.Meeting, error)
	Release(ctx context.Context, m *meetings.Meeting, reason string) error
}

// Config tunes lifecycle rules.
type Config struct {
	// AllowReopen permits leaving completed/cancelled.
	AllowReopen bool
}

// Service is the appointment lifecycle manager.
type Service struct {
	repo        Repository
	dir         directory.Directory
	allocator   *scheduling.Allocator
	provisioner MeetingProvisioner
	outbox      events.Publisher
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	cfg         Config
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithOutbox(p events.Publisher) Option {
	return func(s *Service) { s.outbox = p }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func NewService(repo Repository, dir directory.Directory, allocator *scheduling.Allocator, provisioner MeetingProvisioner, opts ...Option) *Service {
	if repo == nil || dir == nil || allocator == nil || provisioner == nil {
		panic("appointments: repository, directory, allocator and provisioner required")
	}
	s := &Service{
		repo:        repo,
		dir:         dir,
		allocator:   allocator,
		provisioner: provisioner,
		logger:      logging.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books an appointment and provisions its meeting. A failure after the
// room exists releases the room before returning.
func (s *Service) Create(ctx context.Context, req CreateRequest) (result *Booking, err error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			s.metrics.ObserveBooking(string(booking.KindOf(err)))
			return
		}
		s.metrics.ObserveBooking("success")
	}()

	const op = "appointments.create"
	patientID := strings.TrimSpace(req.PatientID)
	doctorID := strings.TrimSpace(req.DoctorID)
	if patientID == "" || doctorID == "" {
		return nil, booking.E(booking.KindMalformedInput, op, "patientId and doctorId are required", nil)
	}
	span.SetAttributes(
		attribute.String("telehealth.patient_id", patientID),
		attribute.String("telehealth.doctor_id", doctorID),
	)

	at, err := s.allocator.ParseDateTime(req.AppointmentDateTime)
	if err != nil {
		return nil, err
	}
	if err := s.allocator.Validate(at); err != nil {
		return nil, err
	}
	if err := s.requireParticipants(ctx, op, patientID, doctorID); err != nil {
		return nil, err
	}

	avail, err := s.allocator.CheckAvailability(ctx, doctorID, at)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		return nil, booking.E(booking.KindSlotConflict, op, "doctor already has an appointment at this time", nil)
	}
	release, err := s.allocator.Hold(ctx, doctorID, at)
	if err != nil {
		return nil, err
	}
	defer release()

	meeting, err := s.provisioner.Provision(ctx, patientID, at)
	if err != nil {
		return nil, err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		s.compensate(ctx, meeting, "cancelled")
		return nil, booking.E(booking.KindBookingFailed, op, "booking was cancelled", ctxErr)
	}

	appt := &Appointment{
		PatientID:           patientID,
		DoctorID:            doctorID,
		AppointmentDateTime: at.UTC(),
		Status:              StatusScheduled,
		PhoneNumber:         normalizeOptional(req.PhoneNumber),
		AdditionalNotes:     normalizeOptional(req.AdditionalNotes),
		MeetingID:           meeting.ID,
		MeetingToken:        meeting.AccessToken,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, ErrDuplicateSlot) {
			s.compensate(ctx, meeting, "slot_conflict")
			return nil, booking.E(booking.KindSlotConflict, op, "doctor already has an appointment at this time", err)
		}
		s.compensate(ctx, meeting, "appointment_persist_failed")
		return nil, booking.E(booking.KindBookingFailed, op, "appointment could not be saved", err)
	}
	span.SetAttributes(attribute.String("telehealth.appointment_id", appt.ID))

	s.publish(ctx, appt, events.TypeAppointmentBooked, "")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", doctorID,
		"patient_id", patientID,
		"meeting_id", meeting.ID,
	)
	return &Booking{Appointment: appt, Meeting: meeting}, nil
}

func (s *Service) compensate(ctx context.Context, m *meetings.Meeting, reason string) {
	if err := s.provisioner.Release(ctx, m, reason); err != nil {
		s.logger.Error("meeting release after failed booking", "error", err, "meeting_id", m.ID, "reason", reason, "reconcile", true)
	}
}

func (s *Service) requireParticipants(ctx context.Context, op, patientID, doctorID string) error {
	ok, err := s.dir.DoctorExists(ctx, doctorID)
	if err != nil {
		return booking.E(booking.KindInternal, op, "", err)
	}
	if !ok {
		return booking.E(booking.KindNotFound, op, "doctor not found", nil)
	}
	ok, err = s.dir.PatientExists(ctx, patientID)
	if err != nil {
		return booking.E(booking.KindInternal, op, "", err)
	}
	if !ok {
		return booking.E(booking.KindNotFound, op, "patient not found", nil)
	}
	return nil
}

// Get returns the appointment enriched with directory data.
func (s *Service) Get(ctx context.Context, id string) (*Detailed, error) {
	a, err := s.load(ctx, "appointments.get", id)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, a), nil
}

func (s *Service) load(ctx context.Context, op, id string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, booking.E(booking.KindNotFound, op, "appointment not found", err)
	}
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	return a, nil
}

// Update applies patch. Patient, doctor and meeting references are immutable;
// status follows scheduled -> completed | cancelled.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Detailed, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.update")
	defer span.End()
	span.SetAttributes(attribute.String("telehealth.appointment_id", id))

	const op = "appointments.update"
	cur, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}

	if changed(patch.PatientID, cur.PatientID) {
		return nil, booking.E(booking.KindImmutableField, op, "patientId cannot be changed", nil)
	}
	if changed(patch.DoctorID, cur.DoctorID) {
		return nil, booking.E(booking.KindImmutableField, op, "doctorId cannot be changed", nil)
	}
	if changed(patch.MeetingID, cur.MeetingID) || changed(patch.MeetingToken, cur.MeetingToken) {
		return nil, booking.E(booking.KindImmutableField, op, "meeting reference cannot be changed", nil)
	}

	next := cur.clone()
	if patch.Status != nil {
		status, ok := ParseStatus(*patch.Status)
		if !ok {
			return nil, booking.E(booking.KindInvalidStatus, op, "status must be one of scheduled, completed, cancelled", nil)
		}
		if err := s.checkTransition(op, cur.Status, status); err != nil {
			return nil, err
		}
		next.Status = status
	}

	if patch.AppointmentDateTime != nil {
		if err := s.reschedule(ctx, op, cur, next, *patch.AppointmentDateTime); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if patch.PhoneNumber != nil {
		next.PhoneNumber = normalizeOptional(patch.PhoneNumber)
	}
	if patch.AdditionalNotes != nil {
		next.AdditionalNotes = normalizeOptional(patch.AdditionalNotes)
	}

	if err := s.repo.Update(ctx, next, cur.Status); err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			return nil, booking.E(booking.KindNotFound, op, "appointment not found", err)
		case errors.Is(err, ErrDuplicateSlot):
			return nil, booking.E(booking.KindSlotConflict, op, "doctor already has an appointment at this time", err)
		case errors.Is(err, ErrStatusChanged):
			return nil, booking.E(booking.KindInvalidTransition, op, "appointment changed concurrently; reload and retry", err)
		default:
			return nil, booking.E(booking.KindInternal, op, "", err)
		}
	}

	if next.Status != cur.Status {
		s.metrics.ObserveTransition(string(cur.Status), string(next.Status))
	}
	s.publish(ctx, next, events.TypeAppointmentUpdated, cur.Status)
	return s.enrich(ctx, next), nil
}

func (s *Service) checkTransition(op string, from, to Status) error {
	if from == to {
		return nil
	}
	if from.Terminal() && !s.cfg.AllowReopen {
		return booking.E(booking.KindInvalidTransition, op, "appointment is already "+string(from), nil)
	}
	return nil
}

func (s *Service) reschedule(ctx context.Context, op string, cur, next *Appointment, raw string) error {
	at, err := s.allocator.ParseDateTime(raw)
	if err != nil {
		return err
	}
	if at.Equal(cur.AppointmentDateTime) {
		return nil
	}
	if next.Status.Terminal() {
		return booking.E(booking.KindInvalidTransition, op, "a "+string(next.Status)+" appointment cannot be rescheduled", nil)
	}
	avail, err := s.allocator.CheckAvailability(ctx, cur.DoctorID, at)
	if err != nil {
		return err
	}
	if !avail.Available && avail.ConflictingAppointmentID != cur.ID {
		return booking.E(booking.KindSlotConflict, op, "doctor already has an appointment at this time", nil)
	}
	next.AppointmentDateTime = at.UTC()
	return nil
}

// Delete removes the appointment. Its meeting is left for the reconciler.
func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "appointments.delete"
	cur, err := s.load(ctx, op, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, cur.ID); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return booking.E(booking.KindNotFound, op, "appointment not found", err)
		}
		return booking.E(booking.KindInternal, op, "", err)
	}
	s.publish(ctx, cur, events.TypeAppointmentDeleted, "")
	s.logger.Info("appointment deleted", "appointment_id", cur.ID, "meeting_id", cur.MeetingID)
	return nil
}

// List returns appointments matching filter ordered by start time.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Appointment, error) {
	out, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, booking.E(booking.KindInternal, "appointments.list", "", err)
	}
	if out == nil {
		out = []*Appointment{}
	}
	return out, nil
}

// ListByPatient returns the patient profile and every appointment of the
// patient with its doctor's display fields.
func (s *Service) ListByPatient(ctx context.Context, patientID string) (*PatientAppointments, error) {
	const op = "appointments.list_by_patient"
	patient, err := s.dir.GetPatient(ctx, patientID)
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	if patient == nil {
		return nil, booking.E(booking.KindNotFound, op, "patient not found", nil)
	}
	list, err := s.repo.List(ctx, ListFilter{PatientID: patientID})
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}

	doctors := make(map[string]*DoctorSummary)
	out := &PatientAppointments{Patient: patient, Appointments: make([]PatientAppointment, 0, len(list))}
	for _, a := range list {
		summary, seen := doctors[a.DoctorID]
		if !seen {
			summary = s.doctorSummary(ctx, a.DoctorID)
			doctors[a.DoctorID] = summary
		}
		out.Appointments = append(out.Appointments, PatientAppointment{Appointment: a, Doctor: summary})
	}
	return out, nil
}

func (s *Service) doctorSummary(ctx context.Context, doctorID string) *DoctorSummary {
	doc, err := s.dir.GetDoctor(ctx, doctorID)
	if err != nil {
		s.logger.Warn("doctor lookup failed", "error", err, "doctor_id", doctorID)
		return nil
	}
	if doc == nil {
		return nil
	}
	return &DoctorSummary{DoctorID: doc.ID, FirstName: doc.FirstName, LastName: doc.LastName, Specialty: doc.Specialty}
}

// PatientRoster lists each patient the doctor has seen once, keyed by their
// most recent appointment, most recent first.
func (s *Service) PatientRoster(ctx context.Context, doctorID string) ([]RosterEntry, error) {
	const op = "appointments.patient_roster"
	ok, err := s.dir.DoctorExists(ctx, doctorID)
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	if !ok {
		return nil, booking.E(booking.KindNotFound, op, "doctor not found", nil)
	}
	list, err := s.repo.List(ctx, ListFilter{DoctorID: doctorID})
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}

	records := make([]counterpart.Record[*Appointment], 0, len(list))
	for _, a := range list {
		records = append(records, counterpart.Record[*Appointment]{
			ID:            a.ID,
			OwnerID:       a.DoctorID,
			CounterpartID: a.PatientID,
			At:            a.AppointmentDateTime,
			Payload:       a,
		})
	}
	rows := counterpart.Latest(records, doctorID)

	out := make([]RosterEntry, 0, len(rows))
	for _, row := range rows {
		entry := RosterEntry{
			PatientID:           row.CounterpartID,
			LastAppointmentID:   row.RecordID,
			LastAppointmentDate: row.LatestAt,
			LastStatus:          row.Payload.Status,
			AdditionalNotes:     row.Payload.AdditionalNotes,
		}
		p, err := s.dir.GetPatient(ctx, row.CounterpartID)
		if err != nil {
			s.logger.Warn("patient lookup failed", "error", err, "patient_id", row.CounterpartID)
		}
		if p != nil {
			entry.FirstName = p.FirstName
			entry.LastName = p.LastName
			entry.DateOfBirth = p.DateOfBirth
			entry.Phone = p.Phone
			entry.Address = p.Address
			entry.Gender = p.Gender
		}
		out = append(out, entry)
	}
	return out, nil
}

// DaySlots lists the doctor's slot lattice for day (YYYY-MM-DD in the lattice timezone).
func (s *Service) DaySlots(ctx context.Context, doctorID, day string) ([]scheduling.SlotState, error) {
	const op = "appointments.day_slots"
	grid := s.allocator.Grid()
	loc := grid.Location
	if loc == nil {
		loc = time.UTC
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(day), loc)
	if err != nil {
		return nil, booking.E(booking.KindMalformedInput, op, "date must look like YYYY-MM-DD", err)
	}
	ok, err := s.dir.DoctorExists(ctx, doctorID)
	if err != nil {
		return nil, booking.E(booking.KindInternal, op, "", err)
	}
	if !ok {
		return nil, booking.E(booking.KindNotFound, op, "doctor not found", nil)
	}
	return s.allocator.DaySlots(ctx, doctorID, date)
}

func (s *Service) enrich(ctx context.Context, a *Appointment) *Detailed {
	d := &Detailed{Appointment: a}
	if p, err := s.dir.GetPatient(ctx, a.PatientID); err != nil {
		s.logger.Warn("patient lookup failed", "error", err, "patient_id", a.PatientID)
	} else {
		d.Patient = p
	}
	if doc, err := s.dir.GetDoctor(ctx, a.DoctorID); err != nil {
		s.logger.Warn("doctor lookup failed", "error", err, "doctor_id", a.DoctorID)
	} else {
		d.Doctor = doc
	}
	return d
}

func (s *Service) publish(ctx context.Context, a *Appointment, eventType string, previous Status) {
	if s.outbox == nil {
		return
	}
	payload := events.AppointmentEventV1{
		AppointmentID:       a.ID,
		PatientID:           a.PatientID,
		DoctorID:            a.DoctorID,
		AppointmentDateTime: a.AppointmentDateTime,
		Status:              string(a.Status),
		MeetingID:           a.MeetingID,
		PreviousStatus:      string(previous),
		OccurredAt:          s.now().UTC(),
	}
	if _, err := s.outbox.Insert(context.WithoutCancel(ctx), a.ID, eventType, payload); err != nil {
		s.logger.Error("appointment event not recorded", "error", err, "appointment_id", a.ID, "type", eventType)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

func changed(patch *string, current string) bool {
	return patch != nil && strings.TrimSpace(*patch) != current
}
