package api

import (
	"net/http"

	"github.com/phrazzld/rhqueue/internal/api/shared"
)

// HealthHandler reports liveness together with a scheduler summary.
type HealthHandler struct {
	scheduler TaskScheduler
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(scheduler TaskScheduler) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.scheduler.Snapshot()
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:       "ok",
		RunningCount: snap.RunningCount,
		Tasks:        len(snap.Tasks),
	})
}
