package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records HTTP server instruments for the control API.
type Metrics struct {
	requestDuration  metric.Float64Histogram
	requestsInFlight metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of control API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestsInFlight, err := meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Control API requests in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{requestDuration: requestDuration, requestsInFlight: requestsInFlight}, nil
}

// Middleware records duration and in-flight count per request.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			method := attribute.String("http.request.method", r.Method)

			m.requestsInFlight.Add(r.Context(), 1, metric.WithAttributes(method))
			defer m.requestsInFlight.Add(r.Context(), -1, metric.WithAttributes(method))

			rec := record(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			if route == "" {
				route = "unmatched"
			}
			m.requestDuration.Record(r.Context(), time.Since(start).Seconds(), metric.WithAttributes(
				method,
				attribute.String("http.route", route),
				attribute.String("http.response.status_code", strconv.Itoa(rec.status)),
			))
		})
	}
}
