package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/telehealth-booking/internal/appointments"
	"github.com/wolfman30/telehealth-booking/internal/chat"
	httpmiddleware "github.com/wolfman30/telehealth-booking/internal/http/middleware"
	"github.com/wolfman30/telehealth-booking/internal/http/respond"
	"github.com/wolfman30/telehealth-booking/internal/meetings"
	"github.com/wolfman30/telehealth-booking/pkg/logging"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *appointments.Handler
	ChatHandler         *chat.Handler
	MeetingsHandler     *meetings.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
	AuthSecret          string
	RateLimiter         *httpmiddleware.RateLimiter

	// Readiness checks keyed by dependency name (optional)
	HealthChecks map[string]Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Caller-scoped API routes
	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		api.Use(httpmiddleware.CallerJWT(cfg.AuthSecret))

		if cfg.AppointmentsHandler != nil {
			api.Mount("/appointments", cfg.AppointmentsHandler.Routes())
			api.Mount("/doctors", cfg.AppointmentsHandler.DoctorRoutes())
		}
		if cfg.ChatHandler != nil {
			api.Mount("/chats", cfg.ChatHandler.Routes())
		}
		if cfg.MeetingsHandler != nil {
			api.Mount("/meetings", cfg.MeetingsHandler.Routes())
		}
	})

	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		code := http.StatusOK
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				resp[name] = "unavailable"
				resp["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		respond.JSON(w, code, resp)
	}
}
