// Package tracking owns the foreground location subscription and forwards samples that moved
// far enough since the last sent position.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/internal/telemetry"
	"github.com/zonewatch/zonewatch/pkg/geo"
)

const (
	// DefaultMinDistanceMeters is the movement threshold for forwarding a sample.
	DefaultMinDistanceMeters = 5.0
	// DefaultMinInterval is the OS-level delivery interval requested from the provider.
	DefaultMinInterval = 10 * time.Second
	// DefaultSendTimeout bounds one location update call.
	DefaultSendTimeout = 15 * time.Second
)

var (
	ErrNotInitialized = errors.New("tracking engine not initialized")
	ErrNoSender       = errors.New("tracking engine requires a location sender")
)

// LocationSender posts one sample to the backend.
type LocationSender interface {
	UpdateLocation(ctx context.Context, s location.Sample) error
}

// PermissionSource reports the negotiated permission state. *permission.Negotiator satisfies it.
type PermissionSource interface {
	State() permission.State
}

// State is the engine lifecycle stage.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateIdle          State = "idle"
	StateTracking      State = "tracking"
)

// Status is a snapshot of the tracking state.
type Status struct {
	State      State           `json:"state"`
	IsTracking bool            `json:"isTracking"`
	LastSent   *geo.Coordinate `json:"lastSent,omitempty"`
	Received   uint64          `json:"received"`
	Forwarded  uint64          `json:"forwarded"`
	Discarded  uint64          `json:"discarded"`
	Failed     uint64          `json:"failed"`
}

// Config configures an Engine.
type Config struct {
	Provider    location.Provider
	Permissions PermissionSource
	// Tokens receives the session on Initialize so the background task can read it.
	Tokens *auth.TokenStore

	// Options are passed to the provider. Zero fields take the defaults.
	Options location.WatchOptions

	SendTimeout time.Duration
	Logger      zerolog.Logger
	Metrics     *telemetry.Metrics
}

// Engine is the LocationTrackingEngine. Construct one per process and share it by reference.
type Engine struct {
	provider    location.Provider
	permissions PermissionSource
	tokens      *auth.TokenStore
	opts        location.WatchOptions
	sendTimeout time.Duration
	logger      zerolog.Logger
	metrics     *telemetry.Metrics

	mu         sync.Mutex
	state      State
	sender     LocationSender
	generation uint64
	cancel     context.CancelFunc
	lastSent   *geo.Coordinate
	received   uint64
	forwarded  uint64
	discarded  uint64

	failed atomic.Uint64
	sends  sync.WaitGroup
}

// NewEngine creates an uninitialized Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("tracking: location provider is required")
	}
	if cfg.Permissions == nil {
		return nil, errors.New("tracking: permission source is required")
	}

	opts := cfg.Options
	opts.Accuracy = location.AccuracyHighest
	if opts.MinDistanceMeters <= 0 {
		opts.MinDistanceMeters = DefaultMinDistanceMeters
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	return &Engine{
		provider:    cfg.Provider,
		permissions: cfg.Permissions,
		tokens:      cfg.Tokens,
		opts:        opts,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger.With().Str("component", "tracking").Logger(),
		metrics:     cfg.Metrics,
		state:       StateUninitialized,
	}, nil
}

// Initialize binds the sender and persists the session for the background task. Calling it
// again replaces the sender and keeps the current tracking state.
func (e *Engine) Initialize(ctx context.Context, sender LocationSender, session *auth.Session) error {
	if sender == nil {
		return ErrNoSender
	}
	if session != nil && e.tokens != nil {
		if err := e.tokens.Set(ctx, *session); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sender = sender
	if e.state == StateUninitialized {
		e.state = StateIdle
	}
	return nil
}

// Start subscribes to the location provider. It is a no-op when already tracking.
// The subscription lives until Stop; ctx only carries values.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateTracking:
		e.logger.Info().Msg("tracking already active")
		return nil
	}

	if !e.permissions.State().ForegroundGranted() {
		return fmt.Errorf("start tracking: %w", permission.ErrPermissionDenied)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	samples, err := e.provider.Watch(watchCtx, e.opts)
	if err != nil {
		cancel()
		return fmt.Errorf("watch location: %w", err)
	}

	e.generation++
	e.cancel = cancel
	e.state = StateTracking
	e.lastSent = nil

	go e.consume(watchCtx, e.generation, samples)

	e.logger.Info().
		Float64("min_distance_m", e.opts.MinDistanceMeters).
		Dur("min_interval", e.opts.MinInterval).
		Msg("location tracking started")
	return nil
}

// Stop cancels the subscription. It is safe to call at any time and more than once. In-flight
// sends are allowed to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateTracking {
		return
	}
	e.cancel()
	e.cancel = nil
	e.generation++
	e.state = StateIdle
	e.logger.Info().Msg("location tracking stopped")
}

// Shutdown stops tracking and waits for in-flight sends or ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()

	done := make(chan struct{})
	go func() {
		e.sends.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTracking reports whether a subscription is active.
func (e *Engine) IsTracking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateTracking
}

// Status returns a snapshot of the tracking state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		State:      e.state,
		IsTracking: e.state == StateTracking,
		Received:   e.received,
		Forwarded:  e.forwarded,
		Discarded:  e.discarded,
		Failed:     e.failed.Load(),
	}
	if e.lastSent != nil {
		c := *e.lastSent
		s.LastSent = &c
	}
	return s
}

// consume handles samples serially, in delivery order.
func (e *Engine) consume(ctx context.Context, gen uint64, samples <-chan location.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				e.logger.Warn().Msg("location provider closed the subscription")
				return
			}
			e.handle(gen, s)
		}
	}
}

// handle applies the distance filter. The decision and the lastSent update are one critical
// section; the send itself runs outside it.
func (e *Engine) handle(gen uint64, s location.Sample) {
	e.mu.Lock()
	if gen != e.generation || e.state != StateTracking {
		e.mu.Unlock()
		return
	}

	e.received++
	e.metrics.SampleReceived(context.Background(), "foreground")

	if e.lastSent != nil {
		if d := geo.DistanceMeters(*e.lastSent, s.Coordinate); d <= e.opts.MinDistanceMeters {
			e.discarded++
			e.mu.Unlock()
			e.metrics.SampleDiscarded(context.Background())
			e.logger.Debug().Float64("distance_m", d).Msg("sample below movement threshold")
			return
		}
	}

	c := s.Coordinate
	e.lastSent = &c
	e.forwarded++
	sender := e.sender
	e.sends.Add(1)
	e.mu.Unlock()

	go e.send(sender, s)
}

func (e *Engine) send(sender LocationSender, s location.Sample) {
	defer e.sends.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()

	if err := sender.UpdateLocation(ctx, s); err != nil {
		e.failed.Add(1)
		e.metrics.SendFailed(ctx, "foreground")
		e.logger.Warn().Err(err).Str("coordinate", s.Coordinate.String()).Msg("location update failed")
		return
	}
	e.metrics.SampleForwarded(ctx, "foreground")
}
