package handler

import (
	"net/http"

	"github.com/capitalize-ai/messaging-core/internal/store"
)

// Pinger reports message bus connectivity. Nil when no bus is configured.
type Pinger interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store *store.Store
	bus   Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st *store.Store, bus Pinger) *HealthHandler {
	return &HealthHandler{store: st, bus: bus}
}

// Health handles GET /health — process liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready — store and bus reachability.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	if h.bus != nil && !h.bus.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "bus unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
