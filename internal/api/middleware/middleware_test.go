package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/internal/api/middleware"
	"github.com/zonewatch/zonewatch/internal/api/models"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID_GeneratesAndPreserves(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "upstream-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "upstream-1", seen)

	assert.Empty(t, middleware.GetRequestID(req.Context()))

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(middleware.RequestIDHeader, "bad id\nforged=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, strings.HasPrefix(seen, "req_"))
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusConflict, "warn"},
		{http.StatusBadGateway, "error"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		handler := middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("body"))
		}))
		req := httptest.NewRequest(http.MethodPost, "/v1/tracking/start", http.NoBody)
		req.Header.Set("User-Agent", "zonewatch-test")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, tt.level, entry["level"])
		assert.Equal(t, "request completed", entry["message"])
		assert.Equal(t, "POST", entry["method"])
		assert.Equal(t, "/v1/tracking/start", entry["path"])
		assert.Equal(t, float64(tt.status), entry["status"])
		assert.Equal(t, float64(4), entry["bytes"])
		assert.Equal(t, "zonewatch-test", entry["user_agent"])
	}
}

func TestLogger_DefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(200), entry["status"])
}

func TestRecovery_WritesProblem(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.RequestID(middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tracking", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, models.ProblemTypeInternal, p.Type)
	assert.Equal(t, "/v1/tracking", p.Instance)
	assert.Contains(t, buf.String(), "handler panicked")
}

func TestRecovery_ResponseStarted(t *testing.T) {
	var buf bytes.Buffer
	handler := middleware.Recovery(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tracking", http.NoBody))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Contains(t, buf.String(), `"response_started":true`)
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	})
}

func TestControlToken(t *testing.T) {
	handler := middleware.ControlToken("s3cret")(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
		{"case insensitive scheme", "bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/tracking", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestControlToken_DisabledWhenEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.ControlToken("")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByIP(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{RequestLimit: 2, WindowLength: time.Minute})(okHandler)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/tracking", http.NoBody)
		req.RemoteAddr = ip
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)

	limited := send("10.0.0.1:1000")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", limited.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code)
}

func TestPerMinute(t *testing.T) {
	assert.Equal(t, middleware.DefaultRateLimit, middleware.PerMinute(0))
	assert.Equal(t, 30, middleware.PerMinute(30).RequestLimit)
}

func TestContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.ContentTypeJSON(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodPut, "/v1/session", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	middleware.RequireJSON(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/session", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	middleware.RequireJSON(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	middleware.SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
