// Package gateway is the authenticated JSON client for the zonewatch backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/resilience"
	"github.com/zonewatch/zonewatch/internal/telemetry"
)

const tracerName = "github.com/zonewatch/zonewatch/internal/gateway"

// DefaultRefreshPath is the token refresh endpoint.
const DefaultRefreshPath = "/auth/refresh-token"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// HTTPDoer is the transport used by Client. *resilience.Client and *http.Client satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. https://api.example.com/api/v1.
	BaseURL string

	// Timeout bounds each HTTP exchange.
	// Default: 15 seconds
	Timeout time.Duration

	// HTTPClient overrides the transport. Defaults to a resilience.Client.
	HTTPClient HTTPDoer

	// Tokens supplies and receives the session tokens.
	Tokens *auth.TokenStore

	// Metrics records refresh outcomes. Optional.
	Metrics *telemetry.Metrics

	// RefreshPath overrides DefaultRefreshPath.
	RefreshPath string

	Logger zerolog.Logger

	// Now is the clock used for token expiry checks.
	Now func() time.Time
}

// Client sends authenticated requests and recovers from expired tokens.
type Client struct {
	baseURL     string
	timeout     time.Duration
	http        HTTPDoer
	tokens      *auth.TokenStore
	refreshPath string
	logger      zerolog.Logger
	now         func() time.Time
	tracer      trace.Tracer
	metrics     *telemetry.Metrics

	refreshGroup singleflight.Group
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("gateway: token store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient == nil {
		rc := resilience.DefaultClientConfig("backend")
		rc.Timeout = cfg.Timeout
		cfg.HTTPClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		http:        cfg.HTTPClient,
		tokens:      cfg.Tokens,
		refreshPath: cfg.RefreshPath,
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		now:         cfg.Now,
		tracer:      otel.Tracer(tracerName),
		metrics:     cfg.Metrics,
	}, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Do sends a request and returns the decoded envelope.
// A domain rejection returns both the envelope and a KindDomainRejected or KindServer error.
// On 401 the token is refreshed once, shared across concurrent callers, and the request retried
// exactly once.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = b
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	env, err := c.do(ctx, method, path, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if gwErr, ok := AsError(err); ok {
			span.SetAttributes(attribute.String("gateway.error.kind", string(gwErr.Kind)))
		}
	}
	return env, err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*Envelope, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}

	if token != "" && auth.Expired(token, c.now(), 0) {
		c.logger.Debug().Msg("access token expired, refreshing before request")
		if token, err = c.refresh(ctx, token); err != nil {
			return nil, err
		}
	}

	status, respBody, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if token == "" {
			return nil, &Error{Kind: KindAuthExpired, StatusCode: status, Message: "unauthorized"}
		}

		fresh, err := c.refresh(ctx, token)
		if err != nil {
			return nil, err
		}

		status, respBody, err = c.send(ctx, method, path, payload, fresh)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &Error{Kind: KindAuthExpired, StatusCode: status, Message: "unauthorized after token refresh"}
		}
	}

	return interpret(status, respBody)
}

// send performs one HTTP exchange.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get("X-Request-Id")).
		Msg("backend request")

	return resp.StatusCode, respBody, nil
}

// interpret maps an HTTP exchange onto an envelope or an Error.
func interpret(status int, body []byte) (*Envelope, error) {
	env, ok := decodeEnvelope(body)

	if status >= 200 && status < 300 {
		if !ok {
			return nil, &Error{Kind: KindMalformed, StatusCode: status, Message: "response is not an envelope"}
		}
		return env, classify(env, status)
	}

	if ok && !env.Success() {
		return env, classify(env, status)
	}
	return nil, &Error{Kind: KindHTTP, StatusCode: status, Message: http.StatusText(status)}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// refresh returns a usable access token to replace failed.
// Concurrent callers holding the same failed token share one refresh call. A caller whose token
// was already replaced gets the current token without a new refresh.
func (c *Client) refresh(ctx context.Context, failed string) (string, error) {
	v, err, shared := c.refreshGroup.Do(failed, func() (any, error) {
		// Detached so one caller's cancellation does not fail every waiter.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		token, err := c.refreshOnce(rctx, failed)
		if token != failed {
			c.metrics.TokenRefresh(rctx, err == nil)
		}
		return token, err
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug().Msg("joined in-flight token refresh")
	}
	return v.(string), nil
}

func (c *Client) refreshOnce(ctx context.Context, failed string) (string, error) {
	current, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	if current == "" {
		return "", &Error{Kind: KindAuthExpired, Message: "session cleared", Err: auth.ErrNoSession}
	}
	if current != failed {
		return current, nil
	}

	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		c.clearSession(ctx, ErrNoRefreshToken)
		return "", &Error{Kind: KindAuthExpired, Message: "no refresh token", Err: ErrNoRefreshToken}
	}

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	status, body, err := c.send(ctx, http.MethodPost, c.refreshPath, payload, "")
	if err != nil {
		c.clearSession(ctx, err)
		return "", &Error{Kind: KindAuthExpired, Message: "token refresh failed", Err: err}
	}

	env, err := interpret(status, body)
	if err != nil {
		c.clearSession(ctx, err)
		return "", &Error{Kind: KindAuthExpired, StatusCode: status, Message: "token refresh failed", Err: err}
	}

	var out refreshResponse
	if err := env.Decode(&out); err != nil || out.Token == "" {
		c.clearSession(ctx, ErrRefreshRejected)
		return "", &Error{Kind: KindAuthExpired, StatusCode: status, Message: "token refresh failed", Err: ErrRefreshRejected}
	}

	if err := c.tokens.SetTokens(ctx, out.Token, out.RefreshToken); err != nil {
		return "", fmt.Errorf("store refreshed tokens: %w", err)
	}

	c.logger.Info().Msg("access token refreshed")
	return out.Token, nil
}

func (c *Client) clearSession(ctx context.Context, cause error) {
	c.logger.Warn().Err(cause).Msg("token refresh failed, clearing session")
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear session")
	}
}
