// Package auth holds the client-side session: the access/refresh token pair and the user profile,
// persisted to durable storage so every execution context reads the same credentials.
//
// Token lifecycle:
//
//  1. Login writes a full Session with Set.
//  2. The gateway reads the access token on every call and, on 401 or a locally expired token,
//     exchanges the refresh token and stores the new pair with SetTokens.
//  3. Logout, or a refresh that fails, calls Clear. OnCleared listeners then force the UI back to
//     the sign-in flow.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zonewatch/zonewatch/internal/storage"
)

// Persisted keys, shared with the background task process.
const (
	KeyAuthToken    = "authToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Predefined session errors.
var (
	ErrNoSession         = errors.New("no active session")
	ErrEmptyAccessToken  = errors.New("access token is required")
	ErrInvalidUserRecord = errors.New("stored user record is not valid JSON")
)

// Session is the authenticated session of the device user.
type Session struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	UserID       string          `json:"userId"`
	User         json.RawMessage `json:"user,omitempty"`
}

type userRecord struct {
	UserID string `json:"userId,omitempty"`
	ID     string `json:"id,omitempty"`
}

// TokenStore owns the persisted session.
// Reads always go to the underlying store so a value written by another process is visible
// immediately. Writes are serialized and applied atomically.
type TokenStore struct {
	kv storage.KV
	mu sync.Mutex

	listenersMu sync.RWMutex
	onCleared   []func()
}

// NewTokenStore creates a TokenStore on top of kv.
func NewTokenStore(kv storage.KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// OnCleared registers fn to be called after the session is cleared.
func (s *TokenStore) OnCleared(fn func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.onCleared = append(s.onCleared, fn)
}

// AccessToken returns the current access token, or "" when no session exists.
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.read(ctx, KeyAuthToken)
}

// RefreshToken returns the current refresh token, or "" when none is stored.
func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return s.read(ctx, KeyRefreshToken)
}

// Session returns the full persisted session.
// Returns ErrNoSession when no access token is stored.
func (s *TokenStore) Session(ctx context.Context) (*Session, error) {
	access, err := s.read(ctx, KeyAuthToken)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNoSession
	}

	refresh, err := s.read(ctx, KeyRefreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.read(ctx, KeyUser)
	if err != nil {
		return nil, err
	}

	session := &Session{AccessToken: access, RefreshToken: refresh}
	if user != "" {
		var rec userRecord
		if err := json.Unmarshal([]byte(user), &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUserRecord, err)
		}
		session.User = json.RawMessage(user)
		session.UserID = rec.UserID
		if session.UserID == "" {
			session.UserID = rec.ID
		}
	}
	if session.UserID == "" {
		session.UserID = UserIDFromToken(access)
	}

	return session, nil
}

// Set replaces the whole session in one atomic write.
func (s *TokenStore) Set(ctx context.Context, session Session) error {
	if session.AccessToken == "" {
		return ErrEmptyAccessToken
	}

	user := string(session.User)
	if user == "" {
		userID := session.UserID
		if userID == "" {
			userID = UserIDFromToken(session.AccessToken)
		}
		b, err := json.Marshal(userRecord{UserID: userID})
		if err != nil {
			return fmt.Errorf("encode user record: %w", err)
		}
		user = string(b)
	} else if !json.Valid(session.User) {
		return ErrInvalidUserRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.SetMany(ctx, map[string]string{
		KeyAuthToken:    session.AccessToken,
		KeyRefreshToken: session.RefreshToken,
		KeyUser:         user,
	}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// SetTokens stores a refreshed token pair. An empty refresh token keeps the stored one.
func (s *TokenStore) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return ErrEmptyAccessToken
	}

	entries := map[string]string{KeyAuthToken: accessToken}
	if refreshToken != "" {
		entries[KeyRefreshToken] = refreshToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	return nil
}

// Clear removes the session and notifies OnCleared listeners.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	err := s.kv.Delete(ctx, KeyAuthToken, KeyRefreshToken, KeyUser)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.listenersMu.RLock()
	listeners := append([]func(){}, s.onCleared...)
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

func (s *TokenStore) read(ctx context.Context, key string) (string, error) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}
