package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/models"
	"github.com/zonewatch/zonewatch/internal/api/response"
	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/tracking"
)

// SessionHandler installs and removes the device session.
type SessionHandler struct {
	engine  TrackingEngine
	sender  tracking.LocationSender
	store   SessionStore
	channel RealtimeChannel
	logger  zerolog.Logger
}

// NewSessionHandler creates a SessionHandler. channel may be nil.
func NewSessionHandler(engine TrackingEngine, sender tracking.LocationSender, store SessionStore, channel RealtimeChannel, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		engine:  engine,
		sender:  sender,
		store:   store,
		channel: channel,
		logger:  logger.With().Str("handler", "session").Logger(),
	}
}

// PutSession handles PUT /v1/session: persists the tokens and initializes the engine.
func (h *SessionHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := response.Decode(r, &req); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid session", errs)
		return
	}

	session := &auth.Session{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		UserID:       req.UserID,
		User:         req.User,
	}
	if err := h.engine.Initialize(r.Context(), h.sender, session); err != nil {
		if errors.Is(err, auth.ErrInvalidUserRecord) || errors.Is(err, auth.ErrEmptyAccessToken) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Msg("initialize session")
		response.InternalError(w, r, "failed to store session")
		return
	}

	stored, err := h.store.Session(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("read back session")
		response.InternalError(w, r, "failed to read session")
		return
	}
	response.JSON(w, r, http.StatusOK, models.SessionResponse{
		UserID:          stored.UserID,
		HasRefreshToken: stored.RefreshToken != "",
	})
}

// DeleteSession handles DELETE /v1/session: stops tracking, drops the realtime connection and
// clears the tokens.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	if h.channel != nil {
		h.channel.Disconnect()
	}
	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("clear session")
		response.InternalError(w, r, "failed to clear session")
		return
	}
	response.NoContent(w, r)
}
