package background

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
)

// ForegroundNotice is the user-visible indicator the OS requires while background updates run.
type ForegroundNotice struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// DefaultNotice is shown while background tracking is active.
var DefaultNotice = ForegroundNotice{
	Title: "Zone sharing is on",
	Body:  "Your location is shared with your zones in the background.",
}

// UpdateOptions configures an OS location-update subscription.
type UpdateOptions struct {
	Accuracy          location.Accuracy `json:"accuracy"`
	MinInterval       time.Duration     `json:"minInterval"`
	MinDistanceMeters float64           `json:"minDistanceMeters"`
	Notice            ForegroundNotice  `json:"notice"`
}

// WatchOptions converts to provider options.
func (o UpdateOptions) WatchOptions() location.WatchOptions {
	return location.WatchOptions{
		Accuracy:          o.Accuracy,
		MinDistanceMeters: o.MinDistanceMeters,
		MinInterval:       o.MinInterval,
	}
}

// TaskManager is the OS task scheduler.
type TaskManager interface {
	DefineTask(name string, h Handler) error
	StartLocationUpdates(ctx context.Context, name string, opts UpdateOptions) error
	StopLocationUpdates(ctx context.Context, name string) error
	HasStartedLocationUpdates(ctx context.Context, name string) (bool, error)
}

// BackgroundRequester obtains background consent. *permission.Negotiator satisfies it.
type BackgroundRequester interface {
	RequestBackground(ctx context.Context) (permission.State, error)
}

// Tracker starts and stops the background subscription from the live agent.
type Tracker struct {
	manager     TaskManager
	permissions BackgroundRequester
	notice      ForegroundNotice
	logger      zerolog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(manager TaskManager, permissions BackgroundRequester, logger zerolog.Logger) *Tracker {
	return &Tracker{
		manager:     manager,
		permissions: permissions,
		notice:      DefaultNotice,
		logger:      logger.With().Str("component", "background_tracker").Logger(),
	}
}

// StartBackgroundLocationTracking requests foreground and background permission and registers
// the location subscription for TaskName. It reports success and never returns an error.
func (t *Tracker) StartBackgroundLocationTracking(ctx context.Context) bool {
	state, err := t.permissions.RequestBackground(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("background permission request failed")
		return false
	}
	if !state.BackgroundGranted() {
		t.logger.Warn().Str("level", string(state.Level())).Msg("background location not granted")
		return false
	}

	started, err := t.manager.HasStartedLocationUpdates(ctx, TaskName)
	if err != nil {
		t.logger.Error().Err(err).Msg("query background location updates")
		return false
	}
	if started {
		return true
	}

	opts := UpdateOptions{
		Accuracy:          location.AccuracyHighest,
		MinInterval:       10 * time.Second,
		MinDistanceMeters: 5,
		Notice:            t.notice,
	}
	if err := t.manager.StartLocationUpdates(ctx, TaskName, opts); err != nil {
		t.logger.Error().Err(err).Msg("start background location updates")
		return false
	}
	t.logger.Info().Msg("background location tracking started")
	return true
}

// StopBackgroundLocationTracking unregisters the subscription. It is idempotent.
func (t *Tracker) StopBackgroundLocationTracking(ctx context.Context) error {
	started, err := t.manager.HasStartedLocationUpdates(ctx, TaskName)
	if err != nil {
		return fmt.Errorf("query background location updates: %w", err)
	}
	if !started {
		return nil
	}
	if err := t.manager.StopLocationUpdates(ctx, TaskName); err != nil {
		return fmt.Errorf("stop background location updates: %w", err)
	}
	t.logger.Info().Msg("background location tracking stopped")
	return nil
}

// Active reports whether the background subscription is registered.
func (t *Tracker) Active(ctx context.Context) (bool, error) {
	return t.manager.HasStartedLocationUpdates(ctx, TaskName)
}
