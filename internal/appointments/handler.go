package appointments

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/telehealth-booking/internal/auth"
	"github.com/wolfman30/telehealth-booking/internal/http/middleware"
	"github.com/wolfman30/telehealth-booking/internal/http/respond"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

const maxBodyBytes = 64 << 10

// Handler exposes the appointment REST surface.
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

// Routes mounts under /appointments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/patient/{patientID}", h.ListByPatient)
	r.Get("/{appointmentID}", h.Get)
	r.Put("/{appointmentID}", h.Update)
	r.With(middleware.RequireRole(auth.RoleAdmin)).Delete("/{appointmentID}", h.Delete)
	return r
}

// DoctorRoutes mounts under /doctors.
func (h *Handler) DoctorRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireRole(auth.RoleDoctor)).Get("/me/patients", h.Roster)
	r.Get("/{doctorID}/slots", h.Slots)
	return r
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	switch caller.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		if strings.TrimSpace(req.PatientID) == "" {
			req.PatientID = caller.ID
		}
		if strings.TrimSpace(req.PatientID) != caller.ID {
			respond.Forbidden(w, "patients can only book for themselves")
			return
		}
	default:
		respond.Forbidden(w, "only patients can book appointments")
		return
	}

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, result)
}

// Get handles GET /appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if !participant(caller, appt.Appointment) {
		respond.Forbidden(w, "not a participant of this appointment")
		return
	}
	respond.JSON(w, http.StatusOK, appt)
}

// Update handles PUT /appointments/{appointmentID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var patch Patch
	if !decode(w, r, &patch) {
		return
	}
	id := chi.URLParam(r, "appointmentID")
	if caller.Role != auth.RoleAdmin {
		cur, err := h.service.Get(r.Context(), id)
		if err != nil {
			respond.Error(w, h.logger, err)
			return
		}
		if !participant(caller, cur.Appointment) {
			respond.Forbidden(w, "not a participant of this appointment")
			return
		}
	}
	appt, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, appt)
}

// Delete handles DELETE /appointments/{appointmentID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	if err := h.service.Delete(r.Context(), id); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// List handles GET /appointments?doctorId=&patientId=&status=&date=&limit=.
// Patients and doctors only see their own appointments.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		PatientID: strings.TrimSpace(q.Get("patientId")),
		DoctorID:  strings.TrimSpace(q.Get("doctorId")),
	}
	switch caller.Role {
	case auth.RolePatient:
		filter.PatientID = caller.ID
	case auth.RoleDoctor:
		filter.DoctorID = caller.ID
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			respond.BadRequest(w, "status must be one of scheduled, completed, cancelled")
			return
		}
		filter.Status = status
	}
	if raw := q.Get("date"); raw != "" {
		loc := h.service.allocator.Grid().Location
		if loc == nil {
			loc = time.UTC
		}
		day, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			respond.BadRequest(w, "date must look like YYYY-MM-DD")
			return
		}
		end := day.AddDate(0, 0, 1)
		filter.From, filter.To = &day, &end
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// ListByPatient handles GET /appointments/patient/{patientID}.
func (h *Handler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patientID := chi.URLParam(r, "patientID")
	if caller.Role == auth.RolePatient && caller.ID != patientID {
		respond.Forbidden(w, "patients can only list their own appointments")
		return
	}
	out, err := h.service.ListByPatient(r.Context(), patientID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if caller.Role == auth.RoleDoctor {
		own := out.Appointments[:0]
		for _, a := range out.Appointments {
			if a.DoctorID == caller.ID {
				own = append(own, a)
			}
		}
		out.Appointments = own
	}
	respond.JSON(w, http.StatusOK, out)
}

// Roster handles GET /doctors/me/patients.
func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	roster, err := h.service.PatientRoster(r.Context(), caller.ID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"patients": roster})
}

// Slots handles GET /doctors/{doctorID}/slots?date=YYYY-MM-DD.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		respond.BadRequest(w, "date query parameter is required")
		return
	}
	doctorID := chi.URLParam(r, "doctorID")
	slots, err := h.service.DaySlots(r.Context(), doctorID, date)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"doctorId": doctorID, "date": date, "slots": slots})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller", http.StatusUnauthorized)
		return auth.Caller{}, false
	}
	return caller, true
}

func participant(c auth.Caller, a *Appointment) bool {
	switch c.Role {
	case auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return a.PatientID == c.ID
	case auth.RoleDoctor:
		return a.DoctorID == c.ID
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		respond.BadRequest(w, "request body must be valid JSON")
		return false
	}
	return true
}
