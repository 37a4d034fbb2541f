package realtime

import (
	"encoding/json"
	"strings"
)

// UserLocationTopic is where a user's position updates are pushed.
func UserLocationTopic(userID string) string {
	return "/topic/user/" + userID + "/location"
}

// GeofenceTopic is where entry and exit events for a geofence are pushed.
func GeofenceTopic(geofenceID string) string {
	return "/topic/geofence/" + geofenceID
}

// PeerLocationEvent is a position update of another member.
type PeerLocationEvent struct {
	UserID    string   `json:"userId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     float64  `json:"speed"`
	Heading   float64  `json:"heading"`
	Timestamp int64    `json:"timestamp"`
}

// GeofenceEventType is ENTRY or EXIT.
type GeofenceEventType string

const (
	GeofenceEntry GeofenceEventType = "ENTRY"
	GeofenceExit  GeofenceEventType = "EXIT"
)

// UnmarshalJSON accepts any casing.
func (t *GeofenceEventType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = GeofenceEventType(strings.ToUpper(s))
	return nil
}

// GeofenceEvent reports a member crossing a geofence boundary.
type GeofenceEvent struct {
	GeofenceID string            `json:"geofenceId"`
	UserID     string            `json:"userId"`
	Type       GeofenceEventType `json:"type"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Timestamp  int64             `json:"timestamp"`
}

// SubscribePeerLocations delivers decoded position updates of userID to fn.
func (c *Channel) SubscribePeerLocations(userID string, fn func(PeerLocationEvent)) (string, error) {
	topic := UserLocationTopic(userID)
	return c.Subscribe(topic, func(payload json.RawMessage) {
		var ev PeerLocationEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn().Err(err).Str("topic", topic).Msg("undecodable peer location event")
			return
		}
		if ev.UserID == "" {
			ev.UserID = userID
		}
		fn(ev)
	})
}

// SubscribeGeofence delivers decoded entry and exit events of geofenceID to fn.
func (c *Channel) SubscribeGeofence(geofenceID string, fn func(GeofenceEvent)) (string, error) {
	topic := GeofenceTopic(geofenceID)
	return c.Subscribe(topic, func(payload json.RawMessage) {
		var ev GeofenceEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn().Err(err).Str("topic", topic).Msg("undecodable geofence event")
			return
		}
		if ev.GeofenceID == "" {
			ev.GeofenceID = geofenceID
		}
		fn(ev)
	})
}
