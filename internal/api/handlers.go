package api

import (
	"encoding/json"
	"net/http"

	"codecollab/internal/collab"
)

// Handler serves the read-only HTTP endpoints over the collaboration
// server's aggregate state.
type Handler struct {
	server *collab.Server
}

// Health reports the healthy/degraded verdict. Degraded servers answer
// 503 so load balancers can route around them.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.server.Health()

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Stats returns the per-session stats aggregation.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.server.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
