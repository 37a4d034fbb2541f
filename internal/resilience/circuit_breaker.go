// Package resilience wraps the backend HTTP transport with a circuit breaker and a narrow
// retry policy.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing counts while closed (0 = never).
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// ReadyToTrip decides when to open. Defaults to DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the breaker settings used for the backend API.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker after 5 consecutive failures, or once at least 10
// requests have been seen with a failure ratio of 60% or more.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= 5 {
		return true
	}
	if counts.Requests < 10 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
}

// NewCircuitBreaker creates a typed circuit breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	ready := cfg.ReadyToTrip
	if ready == nil {
		ready = DefaultReadyToTrip
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   maxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   ready,
		OnStateChange: cfg.OnStateChange,
	})
}
