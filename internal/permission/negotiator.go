package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Config configures a Negotiator.
type Config struct {
	API      OSAPI
	Platform Platform
	// AppID is used for the Android settings deep link.
	AppID    string
	Guidance GuidanceFunc
	Logger   zerolog.Logger
}

// Negotiator owns the PermissionState. Denial is a returned state, never an error, and is never
// retried without an explicit request.
type Negotiator struct {
	api      OSAPI
	platform Platform
	appID    string
	guidance GuidanceFunc
	logger   zerolog.Logger

	// mu serializes prompts; only one OS dialog at a time.
	mu      sync.Mutex
	stateMu sync.RWMutex
	state   State
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(cfg Config) (*Negotiator, error) {
	if cfg.API == nil {
		return nil, errors.New("permission: OS API is required")
	}
	if cfg.Platform == "" {
		cfg.Platform = PlatformAndroid
	}
	return &Negotiator{
		api:      cfg.API,
		platform: cfg.Platform,
		appID:    cfg.AppID,
		guidance: cfg.Guidance,
		logger:   cfg.Logger.With().Str("component", "permission").Logger(),
		state:    State{Foreground: StatusUndetermined, Background: StatusUndetermined},
	}, nil
}

// State returns the last known state without querying the OS.
func (n *Negotiator) State() State {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.state
}

// Refresh re-reads both statuses from the OS.
func (n *Negotiator) Refresh(ctx context.Context) (State, error) {
	fg, err := n.api.ForegroundStatus(ctx)
	if err != nil {
		return n.State(), fmt.Errorf("foreground status: %w", err)
	}
	bg, err := n.api.BackgroundStatus(ctx)
	if err != nil {
		return n.State(), fmt.Errorf("background status: %w", err)
	}
	return n.setState(State{Foreground: fg, Background: bg}), nil
}

// RequestForeground prompts for foreground location when undetermined.
func (n *Negotiator) RequestForeground(ctx context.Context) (State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requestForeground(ctx)
}

func (n *Negotiator) requestForeground(ctx context.Context) (State, error) {
	state, err := n.Refresh(ctx)
	if err != nil {
		return state, err
	}

	switch state.Foreground {
	case StatusGranted:
		return state, nil
	case StatusDenied:
		n.deny(CapabilityForeground)
		return state, nil
	}

	answer, err := n.api.RequestForeground(ctx)
	if err != nil {
		return state, fmt.Errorf("request foreground: %w", err)
	}
	state = n.update(func(s *State) { s.Foreground = answer })
	n.logger.Info().Str("foreground", string(answer)).Msg("foreground permission answered")

	if answer != StatusGranted {
		n.deny(CapabilityForeground)
	}
	return state, nil
}

// RequestBackground obtains foreground consent first, then background consent.
// On staged platforms the background prompt is only shown once foreground is granted.
func (n *Negotiator) RequestBackground(ctx context.Context) (State, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var (
		state State
		err   error
	)
	if n.platform.StagedBackground() {
		state, err = n.requestForeground(ctx)
		if err != nil || !state.ForegroundGranted() {
			return state, err
		}
	} else {
		state, err = n.Refresh(ctx)
		if err != nil {
			return state, err
		}
		if state.Foreground == StatusDenied {
			n.deny(CapabilityForeground)
			return state, nil
		}
	}

	switch state.Background {
	case StatusGranted:
		return state, nil
	case StatusDenied:
		n.deny(CapabilityBackground)
		return state, nil
	}

	answer, err := n.api.RequestBackground(ctx)
	if err != nil {
		return state, fmt.Errorf("request background: %w", err)
	}
	n.logger.Info().Str("background", string(answer)).Msg("background permission answered")

	if n.platform.StagedBackground() {
		state = n.update(func(s *State) { s.Background = answer })
	} else if state, err = n.Refresh(ctx); err != nil {
		return state, err
	}

	if !state.ForegroundGranted() {
		n.deny(CapabilityForeground)
	} else if !state.BackgroundGranted() {
		n.deny(CapabilityBackground)
	}
	return state, nil
}

// CheckServicesEnabled reports whether location services are on at the OS level.
func (n *Negotiator) CheckServicesEnabled(ctx context.Context) (bool, error) {
	ok, err := n.api.ServicesEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("services enabled: %w", err)
	}
	return ok, nil
}

// Guidance returns the remediation text for c on this platform.
func (n *Negotiator) Guidance(c Capability) Guidance {
	return guidanceFor(n.platform, n.appID, c)
}

func (n *Negotiator) deny(c Capability) {
	n.logger.Warn().Str("capability", string(c)).Msg("location permission denied")
	if n.guidance != nil {
		n.guidance(n.Guidance(c))
	}
}

func (n *Negotiator) setState(s State) State {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.state = s
	return s
}

func (n *Negotiator) update(fn func(*State)) State {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	fn(&n.state)
	return n.state
}
