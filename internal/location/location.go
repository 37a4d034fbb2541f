// Package location abstracts the device location provider.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/zonewatch/zonewatch/pkg/geo"
)

// Accuracy is the requested fix quality.
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
	AccuracyHighest
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyHighest:
		return "highest"
	case AccuracyHigh:
		return "high"
	default:
		return "balanced"
	}
}

// ErrUnavailable is returned when no fix can be produced.
var ErrUnavailable = errors.New("location unavailable")

// Sample is one location fix. Values are never mutated after creation.
type Sample struct {
	Coordinate     geo.Coordinate
	AccuracyMeters float64
	SpeedMps       float64
	HeadingDegrees float64
	CapturedAt     time.Time
}

// NewSample builds a Sample, normalizing unknown or negative speed and heading to 0.
func NewSample(c geo.Coordinate, accuracy, speed, heading float64, at time.Time) Sample {
	if speed < 0 {
		speed = 0
	}
	if heading < 0 {
		heading = 0
	}
	return Sample{
		Coordinate:     c,
		AccuracyMeters: accuracy,
		SpeedMps:       speed,
		HeadingDegrees: heading,
		CapturedAt:     at,
	}
}

// WatchOptions are the throttling parameters handed to the provider.
type WatchOptions struct {
	Accuracy          Accuracy
	MinDistanceMeters float64
	MinInterval       time.Duration
}

// Provider is the OS location API.
type Provider interface {
	// Watch streams samples until ctx is cancelled, then closes the channel.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Sample, error)
	// Current performs a single read.
	Current(ctx context.Context, accuracy Accuracy) (Sample, error)
}

// throttle applies the OS-level distance and interval filters.
type throttle struct {
	opts     WatchOptions
	last     Sample
	haveLast bool
}

func (t *throttle) allow(s Sample) bool {
	if !t.haveLast {
		t.last, t.haveLast = s, true
		return true
	}
	if s.CapturedAt.Sub(t.last.CapturedAt) < t.opts.MinInterval {
		return false
	}
	if geo.DistanceMeters(t.last.Coordinate, s.Coordinate) < t.opts.MinDistanceMeters {
		return false
	}
	t.last = s
	return true
}
