package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fitmirror/tryon-app/internal/cleanup"
	"github.com/fitmirror/tryon-app/internal/events"
	"github.com/fitmirror/tryon-app/internal/metrics"
	"github.com/fitmirror/tryon-app/internal/ratelimit"
	"github.com/fitmirror/tryon-app/internal/session"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Manager      *session.Manager
	Limiter      *ratelimit.Limiter
	Runner       *cleanup.Runner
	Publisher    *events.Publisher // optional
	Store        Pinger
	CronSecret   string
	StoreTimeout time.Duration
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	sessions := NewSessionHandler(cfg.Manager, cfg.Publisher, cfg.StoreTimeout)
	cron := NewCronHandler(cfg.Runner)

	r.Get("/health", Health(cfg.Store))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/session", func(r chi.Router) {
		// Creation is the strict tier, keyed by client IP since no
		// session exists yet.
		r.With(RateLimit(cfg.Limiter, ratelimit.TierCreate, ByClientIP)).
			Post("/", sessions.Create)

		r.Route("/{id}", func(r chi.Router) {
			// General reads and mutations share the api tier, keyed by
			// session id.
			r.Group(func(r chi.Router) {
				r.Use(RateLimit(cfg.Limiter, ratelimit.TierAPI, BySessionID))
				r.Get("/", sessions.Get)
				r.Put("/", sessions.Update)
				r.Patch("/", sessions.Update)
				r.Delete("/", sessions.Delete)
				r.Get("/activity", sessions.Activity)
			})

			// Activity pings get the permissive fail-open tier.
			r.With(RateLimit(cfg.Limiter, ratelimit.TierActivity, BySessionID)).
				Post("/activity", sessions.TrackActivity)
		})
	})

	r.Route("/cron/cleanup", func(r chi.Router) {
		r.Use(BearerAuth(cfg.CronSecret))
		r.Get("/", cron.Trigger)
		r.Post("/", cron.Manual)
		r.Get("/history", cron.History)
	})

	return r
}
