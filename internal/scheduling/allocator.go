// Package scheduling decides whether a (doctor, start time) slot can be booked.
//
// The availability check is a pre-flight filter. Two concurrent bookings can
// both pass it; the appointments table carries the authoritative unique index
// over (doctor_id, appointment_at) for non-cancelled rows.
package scheduling

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

var schedulingTracer = otel.Tracer("telehealth.internal.scheduling")

// Finder answers slot occupancy questions from the appointment store.
// Only non-cancelled appointments occupy a slot.
type Finder interface {
	FindActiveAt(ctx context.Context, doctorID string, at time.Time) (appointmentID string, found bool, err error)
	ListActiveBetween(ctx context.Context, doctorID string, from, to time.Time) ([]time.Time, error)
}

// Availability is the result of a slot check.
type Availability struct {
	Available                bool   `json:"available"`
	ConflictingAppointmentID string `json:"conflictingAppointmentId,omitempty"`
}

// SlotState is one lattice point of a doctor's day.
type SlotState struct {
	Start  time.Time `json:"start"`
	Booked bool      `json:"booked"`
	Past   bool      `json:"past"`
}

// Allocator validates requested slots and checks them for conflicts.
type Allocator struct {
	finder Finder
	grid   Grid
	holder Holder
	logger *logging.Logger
	now    func() time.Time
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClock overrides the request clock.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithHolder installs a short-lived slot hold used while a booking is in flight.
func WithHolder(h Holder) Option {
	return func(a *Allocator) {
		if h != nil {
			a.holder = h
		}
	}
}

// WithLogger sets the logger used for hold store outages.
func WithLogger(l *logging.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAllocator creates an allocator over the given lattice.
func NewAllocator(finder Finder, grid Grid, opts ...Option) *Allocator {
	if finder == nil {
		panic("scheduling: finder required")
	}
	a := &Allocator{
		finder: finder,
		grid:   grid,
		holder: noopHolder{},
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Grid returns the lattice the allocator enforces.
func (a *Allocator) Grid() Grid { return a.grid }

// ParseDateTime parses an absolute timestamp. Values without an explicit
// offset are ambiguous and rejected.
func (a *Allocator) ParseDateTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, booking.E(booking.KindMalformedInput, "scheduling.parse", "appointmentDateTime is required", nil)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, booking.E(booking.KindMalformedInput, "scheduling.parse",
			"appointmentDateTime must be an RFC 3339 timestamp with a timezone offset", err)
	}
	return t, nil
}

// Validate checks that at is strictly in the future and sits on the lattice.
func (a *Allocator) Validate(at time.Time) error {
	if !at.After(a.now()) {
		return booking.E(booking.KindInvalidSlot, "scheduling.validate", "appointment time must be in the future", nil)
	}
	if !a.grid.Aligned(at) {
		return booking.E(booking.KindInvalidSlot, "scheduling.validate",
			"appointment time must fall on a "+a.grid.Granularity.String()+" boundary", nil)
	}
	if a.grid.EnforceWindows && !a.grid.InWindows(at) {
		return booking.E(booking.KindInvalidSlot, "scheduling.validate", "appointment time is outside the bookable windows", nil)
	}
	return nil
}

// CheckAvailability validates at and reports whether doctorID is free then.
func (a *Allocator) CheckAvailability(ctx context.Context, doctorID string, at time.Time) (Availability, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.check_availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("telehealth.doctor_id", doctorID),
		attribute.String("telehealth.slot", at.UTC().Format(time.RFC3339)),
	)

	if err := a.Validate(at); err != nil {
		return Availability{}, err
	}
	id, found, err := a.finder.FindActiveAt(ctx, doctorID, at)
	if err != nil {
		span.RecordError(err)
		return Availability{}, booking.E(booking.KindInternal, "scheduling.check_availability", "availability lookup failed", err)
	}
	if found {
		return Availability{Available: false, ConflictingAppointmentID: id}, nil
	}
	return Availability{Available: true}, nil
}

// Hold reserves the slot for the duration of a booking attempt. The returned
// release func must be called once the attempt finishes.
func (a *Allocator) Hold(ctx context.Context, doctorID string, at time.Time) (func(), error) {
	release, ok, err := a.holder.Acquire(ctx, doctorID, at)
	if err != nil {
		// Hold store outages fall through to the unique index.
		a.logger.Warn("slot hold unavailable", "error", err, "doctor_id", doctorID, "slot", at.UTC().Format(time.RFC3339))
		return func() {}, nil
	}
	if !ok {
		return nil, booking.E(booking.KindSlotConflict, "scheduling.hold", "slot is being booked by another request", nil)
	}
	return release, nil
}

// DaySlots lists the lattice of the given day with booked flags for doctorID.
func (a *Allocator) DaySlots(ctx context.Context, doctorID string, day time.Time) ([]SlotState, error) {
	from, to := a.grid.DayBounds(day)
	booked, err := a.finder.ListActiveBetween(ctx, doctorID, from, to)
	if err != nil {
		return nil, booking.E(booking.KindInternal, "scheduling.day_slots", "slot lookup failed", err)
	}
	taken := make(map[int64]struct{}, len(booked))
	for _, t := range booked {
		taken[t.Unix()] = struct{}{}
	}
	now := a.now()
	slots := a.grid.Slots(day)
	out := make([]SlotState, 0, len(slots))
	for _, s := range slots {
		_, isBooked := taken[s.Unix()]
		out = append(out, SlotState{Start: s, Booked: isBooked, Past: !s.After(now)})
	}
	return out, nil
}
