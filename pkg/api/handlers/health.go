// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/orderflow/orderflow/pkg/api/response"
	"github.com/orderflow/orderflow/pkg/version"
)

// ReadinessCheck reports whether one dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	started time.Time
	checks  map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler. Checks are probed by the
// readiness endpoint; a nil map means always ready.
func NewHealthHandler(checks map[string]ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		started: time.Now(),
		checks:  checks,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":    false,
			"failures": failures,
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"version":        version.Info(),
	})
}
