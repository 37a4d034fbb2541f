package geofence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/pkg/geo"
)

// DefaultLocationTimeout bounds the single location read after an accept.
const DefaultLocationTimeout = 5 * time.Second

const (
	msgAccepted       = "Request accepted"
	msgDeclined       = "Request declined"
	msgNetwork        = "Could not reach the server. Check your connection and try again."
	msgServer         = "The server could not process the request. Please try again."
	msgSessionExpired = "Your session has expired. Please sign in again."
	msgFailed         = "The request could not be completed."
)

// Tracker starts continuous tracking. *tracking.Engine satisfies it.
type Tracker interface {
	Start(ctx context.Context) error
}

// ForegroundRequester obtains foreground consent. *permission.Negotiator satisfies it.
type ForegroundRequester interface {
	RequestForeground(ctx context.Context) (permission.State, error)
	Guidance(c permission.Capability) permission.Guidance
}

// Result is what the UI shows after accept or decline.
type Result struct {
	Success         bool                 `json:"success"`
	Message         string               `json:"message"`
	ResponseCode    int                  `json:"responseCode,omitempty"`
	Retryable       bool                 `json:"retryable"`
	TrackingStarted bool                 `json:"trackingStarted"`
	Guidance        *permission.Guidance `json:"guidance,omitempty"`
}

// WorkflowConfig configures a Workflow.
type WorkflowConfig struct {
	Client      *Client
	Provider    location.Provider
	Permissions ForegroundRequester
	Tracker     Tracker

	// Fallback is sent when the device location cannot be read.
	Fallback        geo.Coordinate
	LocationTimeout time.Duration
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Workflow is the GeofenceRequestWorkflow.
type Workflow struct {
	client          *Client
	provider        location.Provider
	permissions     ForegroundRequester
	tracker         Tracker
	fallback        geo.Coordinate
	locationTimeout time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

// NewWorkflow creates a Workflow.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if cfg.Client == nil || cfg.Provider == nil || cfg.Permissions == nil || cfg.Tracker == nil {
		return nil, errors.New("geofence: client, provider, permissions and tracker are required")
	}
	if err := cfg.Fallback.Validate(); err != nil {
		return nil, fmt.Errorf("geofence: fallback: %w", err)
	}
	if cfg.LocationTimeout <= 0 {
		cfg.LocationTimeout = DefaultLocationTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Workflow{
		client:          cfg.Client,
		provider:        cfg.Provider,
		permissions:     cfg.Permissions,
		tracker:         cfg.Tracker,
		fallback:        cfg.Fallback,
		locationTimeout: cfg.LocationTimeout,
		logger:          cfg.Logger.With().Str("component", "geofence_workflow").Logger(),
		now:             cfg.Now,
	}, nil
}

// Accept accepts a request, sends an immediate position and starts tracking.
// Server rejections, including a repeated accept, come back as an unsuccessful Result. The
// error is non-nil only when the session expired or the call could not be made at all.
func (w *Workflow) Accept(ctx context.Context, requestID string) (Result, error) {
	env, err := w.client.AcceptRequest(ctx, requestID)
	if err != nil {
		return w.failure(requestID, "accept", err)
	}

	log := w.logger.With().Str("request_id", requestID).Logger()
	result := Result{
		Success:      true,
		Message:      describe(env, msgAccepted),
		ResponseCode: env.Result.ResponseCode,
	}

	sample := w.currentOrFallback(ctx, log)
	if err := w.client.UpdateLocation(ctx, sample); err != nil {
		log.Warn().Err(err).Msg("initial location update failed")
	}

	state, err := w.permissions.RequestForeground(ctx)
	if err != nil {
		log.Error().Err(err).Msg("foreground permission request failed")
		return result, nil
	}
	if !state.ForegroundGranted() {
		g := w.permissions.Guidance(permission.CapabilityForeground)
		result.Guidance = &g
		return result, nil
	}

	if err := w.tracker.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start tracking after accept")
		return result, nil
	}
	result.TrackingStarted = true
	return result, nil
}

// Decline declines a request. It has no tracking side effects.
func (w *Workflow) Decline(ctx context.Context, requestID string) (Result, error) {
	env, err := w.client.DeclineRequest(ctx, requestID)
	if err != nil {
		return w.failure(requestID, "decline", err)
	}
	return Result{
		Success:      true,
		Message:      describe(env, msgDeclined),
		ResponseCode: env.Result.ResponseCode,
	}, nil
}

func (w *Workflow) currentOrFallback(ctx context.Context, log zerolog.Logger) location.Sample {
	readCtx, cancel := context.WithTimeout(ctx, w.locationTimeout)
	defer cancel()

	s, err := w.provider.Current(readCtx, location.AccuracyHighest)
	if err == nil {
		return s
	}
	log.Warn().Err(err).Str("fallback", w.fallback.String()).Msg("current location unavailable, using fallback")
	return location.NewSample(w.fallback, 0, 0, 0, w.now())
}

func (w *Workflow) failure(requestID, action string, err error) (Result, error) {
	log := w.logger.With().Str("request_id", requestID).Str("action", action).Logger()

	gwErr, ok := gateway.AsError(err)
	if !ok {
		log.Error().Err(err).Msg("geofence request failed")
		return Result{Message: msgFailed}, err
	}

	result := Result{ResponseCode: gwErr.Code, Retryable: gwErr.Retryable()}
	switch gwErr.Kind {
	case gateway.KindDomainRejected:
		result.Message = gwErr.Message
		if result.Message == "" {
			result.Message = msgFailed
		}
		log.Info().Int("response_code", gwErr.Code).Msg("geofence request rejected")
		return result, nil
	case gateway.KindNetwork:
		result.Message = msgNetwork
	case gateway.KindServer, gateway.KindHTTP, gateway.KindMalformed:
		result.Message = msgServer
		result.Retryable = true
	case gateway.KindAuthExpired:
		result.Message = msgSessionExpired
		log.Warn().Err(err).Msg("session expired during geofence request")
		return result, err
	}
	log.Warn().Err(err).Msg("geofence request failed")
	return result, nil
}

func describe(env *gateway.Envelope, fallback string) string {
	if env != nil && env.Result.ResponseDescription != "" {
		return env.Result.ResponseDescription
	}
	return fallback
}
