package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger logs one line per request. 4xx logs at warn, 5xx at error.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			event := log.Info()
			switch {
			case rec.status >= http.StatusInternalServerError:
				event = log.Error()
			case rec.status >= http.StatusBadRequest:
				event = log.Warn()
			}

			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event = event.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
			}

			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int64("bytes", rec.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
