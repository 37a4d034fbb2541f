package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client's circuit breaker.
	Name string

	// Timeout bounds a single HTTP attempt.
	// Default: 15 seconds
	Timeout time.Duration

	// MaxRetries is how many times a retryable response is retried. 0 disables retries.
	MaxRetries uint64

	// InitialInterval is the first retry backoff interval.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// CircuitBreaker configures the breaker. Nil uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Transport overrides the underlying round tripper (tests, proxies).
	Transport http.RoundTripper
}

// DefaultClientConfig returns the defaults used for the backend API.
// Retries are limited to idempotent requests that hit a gateway-class 5xx status; transport
// errors are returned to the caller immediately.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Client is an HTTP client with circuit breaker protection and idempotent-only retries.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig),
		config:         cfg,
	}
}

// Do executes req through the circuit breaker.
// 5xx responses count as breaker failures. Idempotent requests answered with 502, 503 or 504
// are retried with exponential backoff; after the last attempt the final response is returned
// as-is. Transport errors are not retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0

	maxRetries := c.config.MaxRetries
	if !idempotent(req.Method) {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	var lastResp *http.Response
	attempt := 0

	operation := func() error {
		attempt++
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		attemptReq, err := c.requestForAttempt(ctx, req, attempt)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes
			r, err := c.httpClient.Do(attemptReq)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}

			var serverErr *ServerError
			if resp != nil && errors.As(err, &serverErr) {
				lastResp = resp
				if retryableStatus(serverErr.StatusCode) {
					return err
				}
				return nil
			}

			return backoff.Permanent(err)
		}

		lastResp = resp
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}
	return lastResp, nil
}

// requestForAttempt returns req for the first attempt and a clone with a rewound body after.
func (c *Client) requestForAttempt(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 1 {
		return req, nil
	}
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// ServerError represents an HTTP 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.circuitBreaker.State()
}

// Counts returns the circuit breaker counters.
func (c *Client) Counts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}
