package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindNetwork covers timeouts, DNS and connection failures, and an open circuit breaker.
	KindNetwork Kind = "network"
	// KindAuthExpired means the session could not be recovered and has been cleared.
	KindAuthExpired Kind = "auth_expired"
	// KindMalformed means the response body could not be decoded.
	KindMalformed Kind = "malformed"
	// KindDomainRejected is a valid envelope carrying a non-success responseCode.
	KindDomainRejected Kind = "domain_rejected"
	// KindServer is an envelope responseCode in the 5xx range.
	KindServer Kind = "server"
	// KindHTTP is a non-2xx HTTP status without a decodable envelope.
	KindHTTP Kind = "http"
)

// CodeAlreadyAdded is returned when the target is already a member. It is benign.
const CodeAlreadyAdded = 100037

var (
	// ErrNoRefreshToken is wrapped when a 401 arrives and no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshRejected is wrapped when the refresh endpoint does not return a token.
	ErrRefreshRejected = errors.New("token refresh rejected")
)

// Error is the single error type returned by Client.
type Error struct {
	Kind       Kind
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("gateway %s: code %d: %s", e.Kind, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Kind, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a user-initiated retry can reasonably succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// IsKind reports whether err is a gateway Error of kind k.
func IsKind(err error, k Kind) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == k
}

// AsError extracts a gateway Error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	ok := errors.As(err, &gwErr)
	return gwErr, ok
}
