package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/internal/tracking"
)

// TrackingHandler drives the foreground engine.
type TrackingHandler struct {
	engine   TrackingEngine
	guidance GuidanceSource
	logger   zerolog.Logger
}

func NewTrackingHandler(engine TrackingEngine, guidance GuidanceSource, logger zerolog.Logger) *TrackingHandler {
	return &TrackingHandler{engine: engine, guidance: guidance, logger: logger.With().Str("handler", "tracking").Logger()}
}

// GetTracking handles GET /v1/tracking.
func (h *TrackingHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.engine.Status())
}

// StartTracking handles POST /v1/tracking/start.
func (h *TrackingHandler) StartTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Start(r.Context()); err != nil {
		switch {
		case errors.Is(err, tracking.ErrNotInitialized):
			response.Conflict(w, r, "no session: PUT /v1/session first")
		case errors.Is(err, permission.ErrPermissionDenied):
			response.PermissionRequired(w, r, err.Error(), guidance(h.guidance, permission.CapabilityForeground))
		default:
			h.logger.Error().Err(err).Msg("start tracking")
			response.InternalError(w, r, "failed to start tracking")
		}
		return
	}
	response.JSON(w, r, http.StatusOK, h.engine.Status())
}

// StopTracking handles POST /v1/tracking/stop.
func (h *TrackingHandler) StopTracking(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	response.JSON(w, r, http.StatusOK, h.engine.Status())
}
