package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/zonewatch/zonewatch/internal/api/models"
)

// RateLimitConfig is a fixed request budget per window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// DefaultRateLimit applies to control endpoints.
var DefaultRateLimit = RateLimitConfig{RequestLimit: 120, WindowLength: time.Minute}

// PerMinute builds a RateLimitConfig of n requests per minute. n <= 0 yields DefaultRateLimit.
func PerMinute(n int) RateLimitConfig {
	if n <= 0 {
		return DefaultRateLimit
	}
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// RateLimitByIP limits requests per client IP.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
			problem.Instance = r.URL.Path
			// httprate does not expose the reset time.
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowLength.Seconds())))
			problem.Write(w)
		}),
	)
}
