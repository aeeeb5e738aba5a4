// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/orderflow/orderflow/config"
	"github.com/orderflow/orderflow/pkg/api/handlers"
	"github.com/orderflow/orderflow/pkg/api/middleware"
	"github.com/orderflow/orderflow/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Orders handles order placement, inspection, and retry endpoints
	Orders *handlers.OrderHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams saga lifecycle events
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	if cfg.Server.RateLimit.Enabled {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		}))
	}

	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	// Register routes
	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if handlers.Orders != nil {
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", handlers.Orders.CreateOrder)
				r.Get("/{id}", handlers.Orders.GetOrder)
				r.Get("/{id}/executions", handlers.Orders.ListExecutions)
				r.Post("/{id}/retry", handlers.Orders.RetryOrder)
				r.Get("/{id}/retries", handlers.Orders.ListRetries)
			})
			r.Get("/executions/{id}", handlers.Orders.GetExecution)
		}
	})

	// Event stream
	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
