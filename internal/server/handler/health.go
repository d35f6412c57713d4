package handler

import (
	"net/http"
	"time"

	"github.com/arbiterlabs/mevscan/internal/health"
)

// HealthHandler serves the health-check endpoint backed by the feed health
// monitor and the scan circuit breaker.
type HealthHandler struct {
	monitor *health.Monitor
	breaker *health.CircuitBreaker
}

// NewHealthHandler creates a HealthHandler. breaker may be nil.
func NewHealthHandler(monitor *health.Monitor, breaker *health.CircuitBreaker) *HealthHandler {
	return &HealthHandler{monitor: monitor, breaker: breaker}
}

// HealthCheck reports whether block data is still flowing and scanning is
// live. A feed outage past the downtime window or an open circuit breaker
// answers 503 so load balancers stop routing dashboards to a scanner serving
// stale data.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !h.monitor.Healthy() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	breakerState := "closed"
	if h.breaker != nil && h.breaker.Open() {
		status = http.StatusServiceUnavailable
		state = "degraded"
		breakerState = "open"
	}
	writeJSON(w, status, map[string]any{
		"status":     state,
		"breaker":    breakerState,
		"last_block": h.monitor.LastBeat().UTC().Format(time.RFC3339),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
