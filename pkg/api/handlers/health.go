package handlers

import (
	"net/http"
	"time"
)

// Source exposes the local zero-copy endpoint to the API.
type Source interface {
	// Ready returns nil when the endpoint can exchange slots.
	Ready() error

	// Status returns a JSON-encodable snapshot of the endpoint.
	Status() any
}

const errNoSource = "endpoint not initialized"

// HealthHandler handles health check and status endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the process running?
//   - Readiness probe: Is the endpoint connected?
//   - Status: State of the producer or consumer
type HealthHandler struct {
	service   string
	source    Source
	startedAt time.Time
}

// NewHealthHandler creates a new health handler.
//
// The source may be nil, in which case readiness and status return
// unhealthy.
func NewHealthHandler(service string, source Source) *HealthHandler {
	return &HealthHandler{
		service:   service,
		source:    source,
		startedAt: time.Now(),
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt).Truncate(time.Second)
	healthy(w, map[string]any{
		"service":    h.service,
		"started_at": h.startedAt.UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": int64(uptime.Seconds()),
	})
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 503 Service Unavailable while the endpoint cannot exchange slots,
// with the status snapshot attached.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		unhealthy(w, errNoSource, nil)
		return
	}

	if err := h.source.Ready(); err != nil {
		unhealthy(w, err.Error(), h.source.Status())
		return
	}
	healthy(w, h.source.Status())
}

// Status handles GET /status - the endpoint snapshot, regardless of
// readiness.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		unhealthy(w, errNoSource, nil)
		return
	}
	respond(w, http.StatusOK, "ok", h.source.Status(), "")
}
