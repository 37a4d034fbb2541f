package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem. http.ErrAbortHandler is re-raised so the
// server can drop the connection. When the handler already started the response, the panic is
// only logged.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := record(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				requestID := GetRequestID(r.Context())
				log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("panic", v).
					Bytes("stack", debug.Stack()).
					Bool("response_started", rec.wroteHeader).
					Msg("handler panicked")

				if rec.wroteHeader {
					return
				}
				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(rec)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
