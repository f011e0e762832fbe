package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/teletherapy-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/teletherapy-scheduler/internal/http/middleware"
	"github.com/wolfman30/teletherapy-scheduler/internal/identity"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Sessions       *handlers.SessionHandler
	Availability   *handlers.AvailabilityHandler
	Health         *handlers.HealthHandler
	MetricsHandler http.Handler

	// AuthSecret signs actor tokens. The API answers 401 when it is empty.
	AuthSecret         string
	CORSAllowedOrigins []string
	// RateLimiter is optional; nil disables per-caller throttling.
	RateLimiter *httpmiddleware.RateLimiter
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
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Live)
			public.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpmiddleware.ActorJWT(cfg.AuthSecret))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		staff := httpmiddleware.RequireRole(identity.RoleTherapist, identity.RoleAdmin)

		if cfg.Availability != nil {
			api.Route("/availability", func(r chi.Router) {
				r.Get("/", cfg.Availability.Search)
				r.With(staff).Post("/", cfg.Availability.Create)
				r.With(staff).Put("/{slotID}", cfg.Availability.Update)
				r.With(staff).Delete("/{slotID}", cfg.Availability.Delete)
			})
		}

		if cfg.Sessions != nil {
			api.Post("/bookings", cfg.Sessions.Book)
			api.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Get("/", cfg.Sessions.Get)
				r.Post("/confirm", cfg.Sessions.Confirm)
				r.Post("/join", cfg.Sessions.Join)
				r.Post("/extend", cfg.Sessions.Extend)
				r.Post("/end", cfg.Sessions.End)
				r.Post("/cancel", cfg.Sessions.Cancel)
				r.Post("/reschedule", cfg.Sessions.Reschedule)
				r.Post("/notes", cfg.Sessions.Notes)
				r.Get("/events", cfg.Sessions.Events)
			})
		}

		// Therapist calendar views; ownership is checked by the scheduler.
		api.Route("/therapists/{therapistID}", func(r chi.Router) {
			r.Use(staff)
			if cfg.Availability != nil {
				r.Get("/slots", cfg.Availability.ListSlots)
			}
			if cfg.Sessions != nil {
				r.Get("/sessions", cfg.Sessions.ListForTherapist)
				r.Get("/statistics", cfg.Sessions.Statistics)
			}
		})
	})

	return r
}
