package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims the client cares about.
// The client never holds the signing key, so tokens are parsed without verification; the
// server remains the authority on validity.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the backend user ID when issued as a private claim.
	UserID string `json:"uid,omitempty"`
}

// ParseClaims decodes the claims of a JWT access token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// UserIDFromToken returns the uid claim, falling back to sub. Returns "" for opaque tokens.
func UserIDFromToken(token string) string {
	claims, err := ParseClaims(token)
	if err != nil {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}

// TokenExpiry returns the exp claim of token, if it has one.
func TokenExpiry(token string) (time.Time, bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Expired reports whether token has an exp claim earlier than now+skew.
// Opaque tokens and tokens without exp are never considered expired locally.
func Expired(token string, now time.Time, skew time.Duration) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
