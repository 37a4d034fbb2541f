package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/models"
	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/permission"
)

// BackgroundHandler toggles the background location task.
type BackgroundHandler struct {
	tracker  BackgroundTracker
	guidance GuidanceSource
	logger   zerolog.Logger
}

func NewBackgroundHandler(tracker BackgroundTracker, guidance GuidanceSource, logger zerolog.Logger) *BackgroundHandler {
	return &BackgroundHandler{tracker: tracker, guidance: guidance, logger: logger.With().Str("handler", "background").Logger()}
}

// GetBackground handles GET /v1/background.
func (h *BackgroundHandler) GetBackground(w http.ResponseWriter, r *http.Request) {
	active, err := h.tracker.Active(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("read background state")
		response.InternalError(w, r, "failed to read background state")
		return
	}
	response.JSON(w, r, http.StatusOK, models.BackgroundResponse{Active: active})
}

// StartBackground handles POST /v1/background/start. A refusal is reported as a permission
// problem; the tracker logs the underlying cause.
func (h *BackgroundHandler) StartBackground(w http.ResponseWriter, r *http.Request) {
	if !h.tracker.StartBackgroundLocationTracking(r.Context()) {
		response.PermissionRequired(w, r, "background location tracking could not be started",
			guidance(h.guidance, permission.CapabilityBackground))
		return
	}
	response.JSON(w, r, http.StatusOK, models.BackgroundResponse{Active: true})
}

// StopBackground handles POST /v1/background/stop.
func (h *BackgroundHandler) StopBackground(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.StopBackgroundLocationTracking(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("stop background tracking")
		response.InternalError(w, r, "failed to stop background tracking")
		return
	}
	response.JSON(w, r, http.StatusOK, models.BackgroundResponse{Active: false})
}
