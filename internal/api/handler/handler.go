// Package handler implements the control API endpoints on top of the agent components.
package handler

import (
	"context"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/geofence"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/internal/realtime"
	"github.com/zonewatch/zonewatch/internal/tracking"
)

// TrackingEngine is the foreground engine. *tracking.Engine satisfies it.
type TrackingEngine interface {
	Initialize(ctx context.Context, sender tracking.LocationSender, session *auth.Session) error
	Start(ctx context.Context) error
	Stop()
	Status() tracking.Status
}

// SessionStore reads and clears the persisted session. *auth.TokenStore satisfies it.
type SessionStore interface {
	Session(ctx context.Context) (*auth.Session, error)
	Clear(ctx context.Context) error
}

// RequestWorkflow answers geofence requests. *geofence.Workflow satisfies it.
type RequestWorkflow interface {
	Accept(ctx context.Context, requestID string) (geofence.Result, error)
	Decline(ctx context.Context, requestID string) (geofence.Result, error)
}

// BackgroundTracker toggles background tracking. *background.Tracker satisfies it.
type BackgroundTracker interface {
	StartBackgroundLocationTracking(ctx context.Context) bool
	StopBackgroundLocationTracking(ctx context.Context) error
	Active(ctx context.Context) (bool, error)
}

// RealtimeChannel is the realtime bus. *realtime.Channel satisfies it.
type RealtimeChannel interface {
	Connect(ctx context.Context, token, userID string) error
	Disconnect()
	State() realtime.State
	Subscriptions() []realtime.SubscriptionInfo
	SubscribePeerLocations(userID string, fn func(realtime.PeerLocationEvent)) (string, error)
	SubscribeGeofence(geofenceID string, fn func(realtime.GeofenceEvent)) (string, error)
}

// GuidanceSource explains how to recover a denied capability. *permission.Negotiator satisfies it.
type GuidanceSource interface {
	Guidance(c permission.Capability) permission.Guidance
}

func guidance(src GuidanceSource, c permission.Capability) *permission.Guidance {
	if src == nil {
		return nil
	}
	g := src.Guidance(c)
	return &g
}
