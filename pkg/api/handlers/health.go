package handlers

import (
	"net/http"
	"time"

	"github.com/arguendo/recall/pkg/api/models"
	"github.com/arguendo/recall/pkg/api/response"
	"github.com/arguendo/recall/pkg/memory"
	"github.com/arguendo/recall/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store     *memory.MemoryStore
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store *memory.MemoryStore) *HealthHandler {
	return &HealthHandler{
		store:     store,
		startTime: time.Now(),
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The handler is only
// wired after the record log has been replayed, so a reachable store means
// the engine can serve queries.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
			"ready": false,
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.StatusResponse{
		Status:    "ok",
		Version:   version.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Memory:    h.store.Stats(),
	})
}
