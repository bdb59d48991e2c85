package appointments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAppointmentNotFound is returned when no appointment has the id.
	ErrAppointmentNotFound = errors.New("appointments: appointment not found")

	// ErrDuplicateSlot is returned when a non-cancelled appointment already
	// holds the doctor's slot.
	ErrDuplicateSlot = errors.New("appointments: doctor slot already booked")

	// ErrStatusChanged is returned when the stored status no longer matches
	// the status the update was computed from.
	ErrStatusChanged = errors.New("appointments: status changed concurrently")
)

// Repository persists appointments. Create and Update enforce that no two
// non-cancelled appointments share (doctorId, appointmentDateTime).
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	Update(ctx context.Context, a *Appointment, expected Status) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*Appointment, error)
	FindActiveAt(ctx context.Context, doctorID string, at time.Time) (string, bool, error)
	ListActiveBetween(ctx context.Context, doctorID string, from, to time.Time) ([]time.Time, error)
	MeetingReferenced(ctx context.Context, meetingID string) (bool, error)
	MeetingDoctors(ctx context.Context, meetingID string) ([]string, error)
}

// MemoryRepository keeps appointments in process. The slot rule is checked
// under the same lock as the write.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]*Appointment
	now   func() time.Time

	// CreateErr, when set, fails Create before the slot check.
	CreateErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Appointment), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if a.Status != StatusCancelled && r.slotTakenLocked(a.DoctorID, a.AppointmentDateTime, "") {
		return ErrDuplicateSlot
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.items[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment, expected Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != expected {
		return ErrStatusChanged
	}
	if a.Status != StatusCancelled && r.slotTakenLocked(a.DoctorID, a.AppointmentDateTime, a.ID) {
		return ErrDuplicateSlot
	}
	a.UpdatedAt = r.now().UTC()
	r.items[a.ID] = a.clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Appointment
	for _, a := range r.items {
		if filter.matches(a) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDateTime.Equal(out[j].AppointmentDateTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].AppointmentDateTime.Before(out[j].AppointmentDateTime)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindActiveAt(_ context.Context, doctorID string, at time.Time) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.DoctorID == doctorID && a.Status != StatusCancelled && a.AppointmentDateTime.Equal(at) {
			return a.ID, true, nil
		}
	}
	return "", false, nil
}

func (r *MemoryRepository) ListActiveBetween(_ context.Context, doctorID string, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Time
	for _, a := range r.items {
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if !a.AppointmentDateTime.Before(from) && a.AppointmentDateTime.Before(to) {
			out = append(out, a.AppointmentDateTime)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *MemoryRepository) MeetingReferenced(_ context.Context, meetingID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.MeetingID == meetingID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) MeetingDoctors(_ context.Context, meetingID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.items {
		if a.MeetingID == meetingID {
			out = append(out, a.DoctorID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len reports how many appointments are stored.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *MemoryRepository) slotTakenLocked(doctorID string, at time.Time, exceptID string) bool {
	for id, a := range r.items {
		if id == exceptID || a.Status == StatusCancelled {
			continue
		}
		if a.DoctorID == doctorID && a.AppointmentDateTime.Equal(at) {
			return true
		}
	}
	return false
}
