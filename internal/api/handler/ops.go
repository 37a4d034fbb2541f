package handler

import (
	"net/http"
	"time"

	"github.com/zonewatch/zonewatch/internal/api/models"
	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/realtime"
)

// OpsHandler serves liveness.
type OpsHandler struct {
	version   string
	buildTime string
	engine    TrackingEngine
	channel   RealtimeChannel
}

// NewOpsHandler creates an OpsHandler. engine and channel may be nil.
func NewOpsHandler(version, buildTime string, engine TrackingEngine, channel RealtimeChannel) *OpsHandler {
	return &OpsHandler{version: version, buildTime: buildTime, engine: engine, channel: channel}
}

// HealthCheck handles GET /v1/ops/health.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	if h.engine != nil {
		st := h.engine.Status()
		health.Components = append(health.Components, models.ComponentStatus{
			Name: "tracking", Status: models.HealthStatusOK, State: string(st.State),
		})
	}
	if h.channel != nil {
		state := h.channel.State()
		status := models.HealthStatusOK
		if state != realtime.StateConnected {
			status = models.HealthStatusDegraded
		}
		health.Components = append(health.Components, models.ComponentStatus{
			Name: "realtime", Status: status, State: string(state),
		})
	}
	response.JSON(w, r, http.StatusOK, health)
}
