// Package web exposes the HTTP API: result ingestion for regional checkers,
// notification triggers, status reads, health and metrics.
package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/metrics"
	"github.com/makt28/vigil/internal/notify"
)

// ConfigSource returns the current configuration.
type ConfigSource interface {
	Get() config.Config
}

// Deps are the services the router wires into handlers.
type Deps struct {
	Config     ConfigSource
	Statuses   StatusService
	Dispatcher DispatchService
	Registry   *notify.Registry
	Store      Pinger
}

// NewRouter sets up all routes and returns the http.Handler. stopCh ends the
// background cleanup of the API key limiter.
func NewRouter(d Deps, stopCh <-chan struct{}) http.Handler {
	cfg := d.Config.Get()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	limiter := NewKeyRateLimiter(cfg.Auth.MaxFailedAttempts, cfg.Auth.LockoutDuration, stopCh)
	handlers := NewHandlers(d.Config, d.Statuses, d.Dispatcher, d.Registry)
	health := NewHealthHandler(d.Config, d.Store)

	// Public routes
	r.Get("/healthz", health.ServeHTTP)
	r.Handle("/metrics", metrics.PromHandler())

	r.Route("/api/v1", func(r chi.Router) {
		timeout := middleware.Timeout(2 * time.Minute)

		// Regional checkers
		r.With(RequireChecker(d.Config), timeout).Post("/checks", handlers.IngestCheck)

		// Operators and integrations
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(d.Config, limiter))

			// Each channel is bounded by its own send timeout; the route has none.
			r.Post("/notifications/trigger", handlers.TriggerNotification)
			r.With(timeout).Get("/monitors/{id}/status", handlers.MonitorStatus)
			r.With(timeout).Post("/notifiers/{id}/test", handlers.TestNotifier)
		})
	})

	return r
}
