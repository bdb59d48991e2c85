package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/telehealth-booking/internal/auth"
	"github.com/wolfman30/telehealth-booking/internal/http/respond"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// Handler exposes chat endpoints for patient and doctor callers.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts under /chats.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListThreads)
	r.Get("/{counterpartID}/messages", h.GetThread)
	r.Post("/{counterpartID}/messages", h.Send)
	return r
}

type sendRequest struct {
	Text string `json:"text"`
}

// Send handles POST /chats/{counterpartID}/messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	p, ok := participant(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		respond.BadRequest(w, "request body must be valid JSON")
		return
	}
	msg, err := h.service.Send(r.Context(), p, chi.URLParam(r, "counterpartID"), req.Text)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, msg)
}

// ListThreads handles GET /chats.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	p, ok := participant(w, r)
	if !ok {
		return
	}
	threads, err := h.service.Threads(r.Context(), p)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// GetThread handles GET /chats/{counterpartID}/messages?limit=10.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	p, ok := participant(w, r)
	if !ok {
		return
	}
	limit := DefaultThreadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respond.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := h.service.Thread(r.Context(), p, chi.URLParam(r, "counterpartID"), limit)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func participant(w http.ResponseWriter, r *http.Request) (Participant, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return Participant{}, false
	}
	switch caller.Role {
	case auth.RolePatient:
		return Participant{Side: SenderPatient, ID: caller.ID}, true
	case auth.RoleDoctor:
		return Participant{Side: SenderDoctor, ID: caller.ID}, true
	}
	respond.Forbidden(w, "only patients and doctors can chat")
	return Participant{}, false
}
