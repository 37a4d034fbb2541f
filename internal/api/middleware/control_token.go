package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zonewatch/zonewatch/internal/api/models"
)

// ControlToken requires "Authorization: Bearer <token>" on every request.
// An empty token disables the check.
func ControlToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			header := r.Header.Get("Authorization")
			if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(header[len(bearerPrefix):]), []byte(token)) != 1 {
				writeUnauthorized(w, r, "invalid control token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized lives here because the response package imports middleware.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
