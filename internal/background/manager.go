package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/storage"
)

const (
	recordKeyPrefix = "backgroundTask:"

	// DefaultPollInterval is how often Run re-reads activation records.
	DefaultPollInterval = 2 * time.Second
)

// ErrNoProvider is returned by Run when the manager has no location provider.
var ErrNoProvider = errors.New("background manager has no location provider")

// activation is the persisted record of a started subscription.
type activation struct {
	Options   UpdateOptions `json:"options"`
	StartedAt time.Time     `json:"startedAt"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// KV is shared between the live agent and the background process.
	KV storage.KV
	// Provider is only needed in the process that calls Run.
	Provider     location.Provider
	PollInterval time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Manager is a host TaskManager. Start and stop only write the activation record, so they work
// from any process; the background process calls Run to act on it.
type Manager struct {
	kv           storage.KV
	provider     location.Provider
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.KV == nil {
		return nil, errors.New("background: KV store is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		kv:           cfg.KV,
		provider:     cfg.Provider,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With().Str("component", "background_manager").Logger(),
		now:          cfg.Now,
		handlers:     make(map[string]Handler),
	}, nil
}

// DefineTask registers the handler for name in this process.
func (m *Manager) DefineTask(name string, h Handler) error {
	if h == nil {
		return errors.New("background: handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = h
	return nil
}

// StartLocationUpdates persists an activation record for name.
func (m *Manager) StartLocationUpdates(ctx context.Context, name string, opts UpdateOptions) error {
	b, err := json.Marshal(activation{Options: opts, StartedAt: m.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode activation: %w", err)
	}
	if err := storage.Set(ctx, m.kv, recordKeyPrefix+name, string(b)); err != nil {
		return fmt.Errorf("persist activation: %w", err)
	}
	m.logger.Info().
		Str("task", name).
		Str("notice", opts.Notice.Title).
		Msg("background location updates registered")
	return nil
}

// StopLocationUpdates removes the activation record for name. Removing a missing record is fine.
func (m *Manager) StopLocationUpdates(ctx context.Context, name string) error {
	if err := m.kv.Delete(ctx, recordKeyPrefix+name); err != nil {
		return fmt.Errorf("delete activation: %w", err)
	}
	return nil
}

// HasStartedLocationUpdates reports whether an activation record exists for name.
func (m *Manager) HasStartedLocationUpdates(ctx context.Context, name string) (bool, error) {
	rec, err := m.record(ctx, name)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

func (m *Manager) record(ctx context.Context, name string) (*activation, error) {
	raw, ok, err := m.kv.Get(ctx, recordKeyPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("read activation: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec activation
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode activation: %w", err)
	}
	return &rec, nil
}

type runner struct {
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Run drives every defined task until ctx is cancelled. When a task's activation record
// appears it opens its own location subscription and delivers batches every MinInterval; when
// the record disappears the subscription is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.provider == nil {
		return ErrNoProvider
	}

	runners := make(map[string]*runner)
	defer func() {
		for _, r := range runners {
			r.cancel()
			<-r.done
		}
	}()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.reconcile(ctx, runners)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) reconcile(ctx context.Context, runners map[string]*runner) {
	m.mu.Lock()
	handlers := make(map[string]Handler, len(m.handlers))
	for name, h := range m.handlers {
		handlers[name] = h
	}
	m.mu.Unlock()

	for name, h := range handlers {
		rec, err := m.record(ctx, name)
		if err != nil {
			m.logger.Error().Err(err).Str("task", name).Msg("read activation record")
			continue
		}

		current := runners[name]
		if current != nil {
			select {
			case <-current.done:
				// Subscription ended on its own; allow a restart.
				delete(runners, name)
				current = nil
			default:
			}
		}

		switch {
		case rec == nil && current != nil:
			current.cancel()
			<-current.done
			delete(runners, name)
			m.logger.Info().Str("task", name).Msg("background subscription stopped")
		case rec != nil && current != nil && !current.startedAt.Equal(rec.StartedAt):
			current.cancel()
			<-current.done
			runners[name] = m.startRunner(ctx, name, h, *rec)
		case rec != nil && current == nil:
			runners[name] = m.startRunner(ctx, name, h, *rec)
		}
	}
}

func (m *Manager) startRunner(ctx context.Context, name string, h Handler, rec activation) *runner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{startedAt: rec.StartedAt, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		m.runTask(runCtx, name, h, rec.Options)
	}()
	m.logger.Info().Str("task", name).Dur("min_interval", rec.Options.MinInterval).Msg("background subscription started")
	return r
}

func (m *Manager) runTask(ctx context.Context, name string, h Handler, opts UpdateOptions) {
	samples, err := m.provider.Watch(ctx, opts.WatchOptions())
	if err != nil {
		m.logger.Error().Err(err).Str("task", name).Msg("background location watch failed")
		return
	}

	interval := opts.MinInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []location.Sample
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := Batch{Samples: pending}
		pending = nil
		m.dispatch(ctx, name, h, batch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				flush()
				return
			}
			pending = append(pending, s)
		case <-ticker.C:
			flush()
		}
	}
}

// dispatch invokes h, keeping the scheduler alive if it panics.
func (m *Manager) dispatch(ctx context.Context, name string, h Handler, batch Batch) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("task", name).Msg("background handler panicked")
		}
	}()
	h.Handle(ctx, batch)
}
