// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/api/handlers"
	"github.com/arguendo/recall/pkg/api/middleware"
	"github.com/arguendo/recall/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Memory handles write, search, payload, and admin endpoints
	Memory *handlers.MemoryHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Events streams engine events over websocket
	Events *handlers.EventsHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Memory != nil {
			r.Route("/memory", func(r chi.Router) {
				r.Delete("/", handlers.Memory.ClearAll)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Post("/", handlers.Memory.WriteMemory)
					r.Get("/", handlers.Memory.SearchMemory)
					r.Delete("/", handlers.Memory.ClearSession)
					r.Post("/payload", handlers.Memory.BuildPayload)
					r.Get("/stats", handlers.Memory.SessionStats)
					r.Get("/export", handlers.Memory.ExportSession)
				})
			})

			r.Get("/stats", handlers.Memory.Stats)
			r.Get("/export", handlers.Memory.ExportAll)
		}

		if handlers.Events != nil {
			r.Get("/events", handlers.Events.ServeHTTP)
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
