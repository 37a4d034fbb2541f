package permission

import (
	"context"
	"sync"
	"sync/atomic"
)

// StaticConfig holds the answers a StaticAPI gives.
type StaticConfig struct {
	// Foreground and Background are the initial statuses.
	Foreground Status
	Background Status
	// ForegroundAnswer and BackgroundAnswer are returned when an undetermined capability is prompted.
	ForegroundAnswer Status
	BackgroundAnswer Status
	ServicesEnabled  bool
	// GrantForegroundWithBackground makes a background grant also grant foreground, as on iOS.
	GrantForegroundWithBackground bool
}

// StaticAPI is an OSAPI whose answers come from configuration. Used by headless agents.
type StaticAPI struct {
	cfg StaticConfig

	mu         sync.Mutex
	foreground Status
	background Status

	ForegroundPrompts atomic.Int32
	BackgroundPrompts atomic.Int32
}

// NewStaticAPI creates a StaticAPI. Empty statuses default to undetermined.
func NewStaticAPI(cfg StaticConfig) *StaticAPI {
	if cfg.Foreground == "" {
		cfg.Foreground = StatusUndetermined
	}
	if cfg.Background == "" {
		cfg.Background = StatusUndetermined
	}
	if cfg.ForegroundAnswer == "" {
		cfg.ForegroundAnswer = StatusDenied
	}
	if cfg.BackgroundAnswer == "" {
		cfg.BackgroundAnswer = StatusDenied
	}
	return &StaticAPI{cfg: cfg, foreground: cfg.Foreground, background: cfg.Background}
}

func (a *StaticAPI) ForegroundStatus(_ context.Context) (Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.foreground, nil
}

func (a *StaticAPI) BackgroundStatus(_ context.Context) (Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.background, nil
}

func (a *StaticAPI) RequestForeground(_ context.Context) (Status, error) {
	a.ForegroundPrompts.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.foreground == StatusUndetermined {
		a.foreground = a.cfg.ForegroundAnswer
	}
	return a.foreground, nil
}

func (a *StaticAPI) RequestBackground(_ context.Context) (Status, error) {
	a.BackgroundPrompts.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.background == StatusUndetermined {
		a.background = a.cfg.BackgroundAnswer
	}
	if a.cfg.GrantForegroundWithBackground && a.background == StatusGranted && a.foreground == StatusUndetermined {
		a.foreground = StatusGranted
	}
	return a.background, nil
}

func (a *StaticAPI) ServicesEnabled(_ context.Context) (bool, error) {
	return a.cfg.ServicesEnabled, nil
}
