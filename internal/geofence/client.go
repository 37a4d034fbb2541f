// Package geofence holds the geofence request endpoints and the accept/decline workflow.
package geofence

import (
	"context"
	"errors"
	"net/url"

	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/location"
)

// UpdateLocationPath is the location update endpoint shared by the foreground engine and the
// background task.
const UpdateLocationPath = "/geofence/locations/update"

const requestsPath = "/geofence/requests/"

// ErrEmptyRequestID is returned for a blank request ID.
var ErrEmptyRequestID = errors.New("geofence: request id is required")

// Poster sends a JSON POST through the gateway. *gateway.Client satisfies it.
type Poster interface {
	Post(ctx context.Context, path string, body any) (*gateway.Envelope, error)
}

// LocationUpdate is the body of the location update endpoint.
type LocationUpdate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     float64  `json:"speed"`
	Heading   float64  `json:"heading"`
	// Timestamp is the capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewLocationUpdate converts a sample. Zero accuracy means unknown and is omitted.
func NewLocationUpdate(s location.Sample) LocationUpdate {
	u := LocationUpdate{
		Latitude:  s.Coordinate.Latitude,
		Longitude: s.Coordinate.Longitude,
		Speed:     s.SpeedMps,
		Heading:   s.HeadingDegrees,
		Timestamp: s.CapturedAt.UnixMilli(),
	}
	if s.AccuracyMeters > 0 {
		acc := s.AccuracyMeters
		u.Accuracy = &acc
	}
	return u
}

// Client calls the geofence endpoints.
type Client struct {
	api Poster
}

// NewClient creates a Client.
func NewClient(api Poster) *Client {
	return &Client{api: api}
}

// AcceptRequest accepts a geofence invitation.
func (c *Client) AcceptRequest(ctx context.Context, requestID string) (*gateway.Envelope, error) {
	if requestID == "" {
		return nil, ErrEmptyRequestID
	}
	return c.api.Post(ctx, requestsPath+url.PathEscape(requestID)+"/accept", nil)
}

// DeclineRequest declines a geofence invitation.
func (c *Client) DeclineRequest(ctx context.Context, requestID string) (*gateway.Envelope, error) {
	if requestID == "" {
		return nil, ErrEmptyRequestID
	}
	return c.api.Post(ctx, requestsPath+url.PathEscape(requestID)+"/decline", nil)
}

// UpdateLocation posts one sample.
func (c *Client) UpdateLocation(ctx context.Context, s location.Sample) error {
	_, err := c.api.Post(ctx, UpdateLocationPath, NewLocationUpdate(s))
	return err
}
