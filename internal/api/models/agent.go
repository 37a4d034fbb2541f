package models

import (
	"encoding/json"

	"github.com/zonewatch/zonewatch/internal/realtime"
)

// SessionRequest is the body of PUT /v1/session.
type SessionRequest struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// Validate reports missing fields.
func (r SessionRequest) Validate() []FieldError {
	var errs []FieldError
	if r.AccessToken == "" {
		errs = append(errs, FieldError{Field: "accessToken", Message: "is required", Code: "REQUIRED"})
	}
	if len(r.User) > 0 && !json.Valid(r.User) {
		errs = append(errs, FieldError{Field: "user", Message: "must be a JSON object", Code: "INVALID"})
	}
	return errs
}

// SessionResponse confirms the stored session.
type SessionResponse struct {
	UserID          string `json:"userId,omitempty"`
	HasRefreshToken bool   `json:"hasRefreshToken"`
}

// BackgroundResponse reports the background task.
type BackgroundResponse struct {
	Active bool `json:"active"`
}

// RealtimeConnectRequest is the body of POST /v1/realtime/connect.
type RealtimeConnectRequest struct {
	// Peers are user ids whose positions are followed.
	Peers []string `json:"peers,omitempty"`
	// Geofences are geofence ids whose entry and exit events are followed.
	Geofences []string `json:"geofences,omitempty"`
}

// RealtimeResponse reports the realtime channel.
type RealtimeResponse struct {
	State         realtime.State              `json:"state"`
	Subscriptions []realtime.SubscriptionInfo `json:"subscriptions"`
}
