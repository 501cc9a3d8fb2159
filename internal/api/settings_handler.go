package api

import (
	"net/http"

	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
	"github.com/phrazzld/rhqueue/internal/settings"
)

// SettingsStore reads and changes the runtime settings.
type SettingsStore interface {
	Get() settings.Settings
	Update(u settings.Update) (settings.Settings, error)
}

// SettingsHandler handles runtime settings requests.
type SettingsHandler struct {
	settings  SettingsStore
	scheduler TaskScheduler
}

// NewSettingsHandler creates a new SettingsHandler. The scheduler is asked
// to admit queued work after every change so a raised limit applies at once.
func NewSettingsHandler(store SettingsStore, scheduler TaskScheduler) *SettingsHandler {
	return &SettingsHandler{settings: store, scheduler: scheduler}
}

// GetSettings handles GET /api/settings.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, toSettingsResponse(h.settings.Get()))
}

// UpdateSettings handles PUT /api/settings. Omitted fields keep their value.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	updated, err := h.settings.Update(req.toUpdate())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}

	logger.FromContext(r.Context()).Info("settings updated",
		"max_concurrent", updated.MaxConcurrent,
		"auto_save", updated.AutoSave,
		"output_dir", updated.OutputDir,
		"api_key_changed", req.APIKey != nil)

	h.scheduler.Admit()
	shared.RespondWithJSON(w, r, http.StatusOK, toSettingsResponse(updated))
}
