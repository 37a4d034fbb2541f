// Package permission negotiates foreground and background location consent with the OS.
package permission

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by callers that cannot proceed without a capability.
var ErrPermissionDenied = errors.New("location permission denied")

// Status is the OS answer for one capability.
type Status string

const (
	StatusUndetermined Status = "undetermined"
	StatusGranted      Status = "granted"
	StatusDenied       Status = "denied"
)

// Capability names a permission tier.
type Capability string

const (
	CapabilityForeground Capability = "foregroundLocation"
	CapabilityBackground Capability = "backgroundLocation"
)

// Level folds State into a single negotiation stage.
type Level string

const (
	LevelUndetermined      Level = "undetermined"
	LevelForegroundGranted Level = "foregroundGranted"
	LevelBackgroundGranted Level = "backgroundGranted"
	LevelDenied            Level = "denied"
)

// State is the permission status per capability.
type State struct {
	Foreground Status `json:"foreground"`
	Background Status `json:"background"`
}

// Level returns the folded stage. A background denial with foreground granted is still
// foregroundGranted.
func (s State) Level() Level {
	switch {
	case s.Foreground == StatusDenied:
		return LevelDenied
	case s.Foreground == StatusGranted && s.Background == StatusGranted:
		return LevelBackgroundGranted
	case s.Foreground == StatusGranted:
		return LevelForegroundGranted
	default:
		return LevelUndetermined
	}
}

// ForegroundGranted reports whether foreground tracking may start.
func (s State) ForegroundGranted() bool {
	return s.Foreground == StatusGranted
}

// BackgroundGranted reports whether background tracking may start.
func (s State) BackgroundGranted() bool {
	return s.Foreground == StatusGranted && s.Background == StatusGranted
}

// OSAPI is the OS permission surface.
type OSAPI interface {
	ForegroundStatus(ctx context.Context) (Status, error)
	BackgroundStatus(ctx context.Context) (Status, error)
	// RequestForeground shows the OS prompt and returns the answer.
	RequestForeground(ctx context.Context) (Status, error)
	// RequestBackground shows the OS background prompt and returns the answer.
	RequestBackground(ctx context.Context) (Status, error)
	ServicesEnabled(ctx context.Context) (bool, error)
}
