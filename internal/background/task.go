// Package background runs location delivery for the OS-scheduled background task, outside the
// live agent's memory.
package background

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/telemetry"
)

// TaskName identifies the background task for registration and for start/stop/query.
const TaskName = "zonewatch-background-location"

// DefaultSendTimeout bounds one background location update.
const DefaultSendTimeout = 15 * time.Second

// Batch is one OS delivery of locations.
type Batch struct {
	Samples []location.Sample
}

// Latest returns the most recently captured sample.
func (b Batch) Latest() (location.Sample, bool) {
	if len(b.Samples) == 0 {
		return location.Sample{}, false
	}
	latest := b.Samples[0]
	for _, s := range b.Samples[1:] {
		if !s.CapturedAt.Before(latest.CapturedAt) {
			latest = s
		}
	}
	return latest, true
}

// Handler receives batches from the scheduler.
type Handler interface {
	Handle(ctx context.Context, batch Batch)
}

// LocationSender posts one sample. *geofence.Client satisfies it.
type LocationSender interface {
	UpdateLocation(ctx context.Context, s location.Sample) error
}

// TaskConfig configures a Task.
type TaskConfig struct {
	// Sender must be bound to a gateway that reads the durable token store.
	Sender      LocationSender
	Tokens      *auth.TokenStore
	SendTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *telemetry.Metrics
}

// Task is the BackgroundLocationTask callback. Every delivered batch sends its latest sample;
// there is no distance filter here since the OS already throttles delivery.
type Task struct {
	sender      LocationSender
	tokens      *auth.TokenStore
	sendTimeout time.Duration
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

// NewTask creates a Task.
func NewTask(cfg TaskConfig) *Task {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Task{
		sender:      cfg.Sender,
		tokens:      cfg.Tokens,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger.With().Str("component", "background_task").Logger(),
		metrics:     cfg.Metrics,
	}
}

// Handle sends the most recent sample. Failures are logged; it never panics or blocks the
// scheduler beyond the send timeout.
func (t *Task) Handle(ctx context.Context, batch Batch) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("background task panicked")
		}
	}()

	sample, ok := batch.Latest()
	if !ok {
		return
	}
	t.metrics.SampleReceived(ctx, "background")

	if t.tokens != nil {
		token, err := t.tokens.AccessToken(ctx)
		if err != nil {
			t.logger.Error().Err(err).Msg("read persisted session")
			return
		}
		if token == "" {
			t.logger.Debug().Msg("no persisted session, skipping background update")
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()

	if err := t.sender.UpdateLocation(ctx, sample); err != nil {
		t.metrics.SendFailed(ctx, "background")
		t.logger.Warn().Err(err).Int("batch_size", len(batch.Samples)).Msg("background location update failed")
		return
	}
	t.metrics.SampleForwarded(ctx, "background")
	t.logger.Debug().Str("coordinate", sample.Coordinate.String()).Msg("background location sent")
}
