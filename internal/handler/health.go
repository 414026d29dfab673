package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/autoscore/autoscore/internal/audit"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	store audit.Pinger
}

// NewHealthHandler creates a HealthHandler. store may be nil for sinks that
// have nothing to ping.
func NewHealthHandler(store audit.Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Healthz reports that the process is serving.
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings the audit store.
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"audit":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "audit": "ok"})
}
