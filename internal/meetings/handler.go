package meetings

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/telehealth-booking/internal/auth"
	"github.com/wolfman30/telehealth-booking/internal/booking"
	"github.com/wolfman30/telehealth-booking/internal/http/respond"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// DoctorLookup names the doctors whose appointments reference a meeting.
type DoctorLookup interface {
	MeetingDoctors(ctx context.Context, meetingID string) ([]string, error)
}

// Handler serves read-only meeting lookups. A meeting is visible to admins,
// to its owning patient and to the doctors booked against it.
type Handler struct {
	store   Store
	doctors DoctorLookup
	logger  *logging.Logger
}

func NewHandler(store Store, doctors DoctorLookup, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, doctors: doctors, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetByTime)
	r.Get("/{meetingID}", h.Get)
	return r
}

// Get handles GET /meetings/{meetingID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		respond.Error(w, h.logger, classify(err, "meetings.get"))
		return
	}
	allowed, err := h.visible(r.Context(), caller, m)
	if err != nil {
		respond.Error(w, h.logger, classify(err, "meetings.get"))
		return
	}
	if !allowed {
		respond.Forbidden(w, "not a participant of this meeting")
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

// GetByTime handles GET /meetings?time=<RFC3339> and returns the newest
// meeting at that instant the caller may see.
func (h *Handler) GetByTime(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return
	}
	raw := r.URL.Query().Get("time")
	if raw == "" {
		respond.BadRequest(w, "time query parameter is required")
		return
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		respond.BadRequest(w, "time must be an RFC 3339 timestamp")
		return
	}
	candidates, err := h.store.ListByScheduledTime(r.Context(), at)
	if err != nil {
		respond.Error(w, h.logger, classify(err, "meetings.get_by_time"))
		return
	}
	for _, m := range candidates {
		allowed, err := h.visible(r.Context(), caller, m)
		if err != nil {
			respond.Error(w, h.logger, classify(err, "meetings.get_by_time"))
			return
		}
		if allowed {
			respond.JSON(w, http.StatusOK, m)
			return
		}
	}
	respond.Error(w, h.logger, classify(ErrMeetingNotFound, "meetings.get_by_time"))
}

func (h *Handler) visible(ctx context.Context, c auth.Caller, m *Meeting) (bool, error) {
	switch c.Role {
	case auth.RoleAdmin:
		return true, nil
	case auth.RolePatient:
		return m.OwnerID == c.ID, nil
	case auth.RoleDoctor:
		if h.doctors == nil {
			return false, nil
		}
		ids, err := h.doctors.MeetingDoctors(ctx, m.ID)
		if err != nil {
			return false, err
		}
		return slices.Contains(ids, c.ID), nil
	}
	return false, nil
}

func classify(err error, op string) error {
	if errors.Is(err, ErrMeetingNotFound) {
		return booking.E(booking.KindNotFound, op, "meeting not found", err)
	}
	return booking.E(booking.KindInternal, op, "", err)
}
