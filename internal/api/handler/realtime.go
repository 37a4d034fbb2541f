package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/models"
	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/realtime"
)

// RealtimeConfig configures a RealtimeHandler.
type RealtimeConfig struct {
	Channel  RealtimeChannel
	Sessions SessionStore
	Logger   zerolog.Logger

	// OnPeerLocation and OnGeofence receive decoded events. Nil logs them.
	OnPeerLocation func(realtime.PeerLocationEvent)
	OnGeofence     func(realtime.GeofenceEvent)
}

// RealtimeHandler connects the realtime channel with the stored session.
type RealtimeHandler struct {
	channel    RealtimeChannel
	sessions   SessionStore
	logger     zerolog.Logger
	onPeer     func(realtime.PeerLocationEvent)
	onGeofence func(realtime.GeofenceEvent)
}

func NewRealtimeHandler(cfg RealtimeConfig) *RealtimeHandler {
	h := &RealtimeHandler{
		channel:    cfg.Channel,
		sessions:   cfg.Sessions,
		logger:     cfg.Logger.With().Str("handler", "realtime").Logger(),
		onPeer:     cfg.OnPeerLocation,
		onGeofence: cfg.OnGeofence,
	}
	if h.onPeer == nil {
		h.onPeer = func(ev realtime.PeerLocationEvent) {
			h.logger.Info().Str("user_id", ev.UserID).Float64("lat", ev.Latitude).Float64("lon", ev.Longitude).Msg("peer location")
		}
	}
	if h.onGeofence == nil {
		h.onGeofence = func(ev realtime.GeofenceEvent) {
			h.logger.Info().Str("geofence_id", ev.GeofenceID).Str("user_id", ev.UserID).Str("type", string(ev.Type)).Msg("geofence event")
		}
	}
	return h
}

// GetRealtime handles GET /v1/realtime.
func (h *RealtimeHandler) GetRealtime(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.snapshot())
}

// Connect handles POST /v1/realtime/connect and subscribes the requested peers and geofences.
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.RealtimeConnectRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	session, err := h.sessions.Session(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			response.Unauthorized(w, r, "no session: PUT /v1/session first")
			return
		}
		h.logger.Error().Err(err).Msg("read session")
		response.InternalError(w, r, "failed to read session")
		return
	}

	if err := h.channel.Connect(r.Context(), session.AccessToken, session.UserID); err != nil {
		h.logger.Warn().Err(err).Msg("realtime connect failed")
		response.BadGateway(w, r, "realtime connection failed")
		return
	}

	var fieldErrs []models.FieldError
	for _, peer := range req.Peers {
		if _, err := h.channel.SubscribePeerLocations(peer, h.onPeer); err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "peers", Message: err.Error()})
		}
	}
	for _, id := range req.Geofences {
		if _, err := h.channel.SubscribeGeofence(id, h.onGeofence); err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "geofences", Message: err.Error()})
		}
	}
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "some subscriptions failed", fieldErrs)
		return
	}
	response.JSON(w, r, http.StatusOK, h.snapshot())
}

// Disconnect handles POST /v1/realtime/disconnect.
func (h *RealtimeHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.channel.Disconnect()
	response.JSON(w, r, http.StatusOK, h.snapshot())
}

func (h *RealtimeHandler) snapshot() models.RealtimeResponse {
	return models.RealtimeResponse{State: h.channel.State(), Subscriptions: h.channel.Subscriptions()}
}
