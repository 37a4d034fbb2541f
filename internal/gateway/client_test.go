package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/storage"
)

func newStore(t *testing.T, access, refresh string) *auth.TokenStore {
	t.Helper()
	store := auth.NewTokenStore(storage.NewMemoryStore())
	if access != "" {
		require.NoError(t, store.Set(context.Background(), auth.Session{
			AccessToken:  access,
			RefreshToken: refresh,
			UserID:       "u-1",
		}))
	}
	return store
}

func newClient(t *testing.T, baseURL string, store *auth.TokenStore) *gateway.Client {
	t.Helper()
	c, err := gateway.New(gateway.Config{
		BaseURL: baseURL,
		Tokens:  store,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, code int, desc string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": map[string]any{"responseCode": code, "responseDescription": desc},
		"data":   data,
	})
}

func TestClient_Success(t *testing.T) {
	var gotAuth, gotRequestID, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		gotContentType = r.Header.Get("Content-Type")
		writeEnvelope(w, 200, "OK", map[string]string{"id": "g-1"})
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "tok", "ref"))

	env, err := client.Post(context.Background(), "/geofence", map[string]string{"name": "home"})
	require.NoError(t, err)
	assert.True(t, env.Success())

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "g-1", out.ID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
}

func TestClient_NoTokenSendsNoAuthorization(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		writeEnvelope(w, 201, "Created", nil)
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "", ""))

	env, err := client.Get(context.Background(), "/public")
	require.NoError(t, err)
	assert.True(t, env.Success())
	assert.Equal(t, "", gotAuth.Load())
}

func TestClient_AlreadyAddedIsDomainRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, gateway.CodeAlreadyAdded, "Already added", map[string]any{})
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "tok", "ref"))

	env, err := client.Post(context.Background(), "/geofence/members", nil)
	require.Error(t, err)
	require.NotNil(t, env)
	assert.Equal(t, gateway.CodeAlreadyAdded, env.Result.ResponseCode)

	gwErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindDomainRejected, gwErr.Kind)
	assert.Equal(t, gateway.CodeAlreadyAdded, gwErr.Code)
	assert.Equal(t, "Already added", gwErr.Message)
	assert.False(t, gwErr.Retryable())
	assert.False(t, gateway.IsKind(err, gateway.KindServer))
	assert.False(t, gateway.IsKind(err, gateway.KindNetwork))
}

func TestClient_ServerCodeIsServerKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, 500, "Internal error", nil)
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "tok", "ref"))

	_, err := client.Get(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindServer))
	assert.False(t, gateway.IsKind(err, gateway.KindDomainRejected))
}

func TestClient_TimeoutIsNetworkKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeEnvelope(w, 200, "OK", nil)
	}))
	defer server.Close()

	client, err := gateway.New(gateway.Config{
		BaseURL:    server.URL,
		Tokens:     newStore(t, "tok", "ref"),
		Timeout:    50 * time.Millisecond,
		HTTPClient: &http.Client{},
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/slow")
	require.Error(t, err)
	assert.True(t, gateway.IsKind(err, gateway.KindNetwork))
}

func TestClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "tok", "ref"))

	_, err := client.Get(context.Background(), "/x")
	assert.True(t, gateway.IsKind(err, gateway.KindMalformed))
}

func TestClient_HTTPErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "tok", "ref"))

	_, err := client.Get(context.Background(), "/missing")
	gwErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindHTTP, gwErr.Kind)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
}

// tokenServer answers 401 unless the request carries validToken.
type tokenServer struct {
	validToken   string
	refreshCalls atomic.Int32
	refreshDelay time.Duration
	refreshFails bool
	authorized   atomic.Int32
}

func (s *tokenServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		time.Sleep(s.refreshDelay)
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if s.refreshFails || req.RefreshToken != "ref" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(w, 200, "OK", map[string]string{"token": s.validToken})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.authorized.Add(1)
		writeEnvelope(w, 200, "OK", nil)
	})
	return mux
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	ts := &tokenServer{validToken: "new", refreshDelay: 100 * time.Millisecond}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	store := newStore(t, "old", "ref")
	client := newClient(t, server.URL, store)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Get(context.Background(), "/geofence/list")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), ts.refreshCalls.Load())
	assert.Equal(t, int32(n), ts.authorized.Load())

	token, err := store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", token)

	refresh, err := store.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ref", refresh)
}

func TestClient_RefreshFailureClearsSession(t *testing.T) {
	ts := &tokenServer{validToken: "new", refreshFails: true, refreshDelay: 50 * time.Millisecond}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	store := newStore(t, "old", "ref")
	var cleared atomic.Int32
	store.OnCleared(func() { cleared.Add(1) })
	client := newClient(t, server.URL, store)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Get(context.Background(), "/x")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, gateway.IsKind(err, gateway.KindAuthExpired), "got %v", err)
	}
	assert.Equal(t, int32(1), ts.refreshCalls.Load())
	assert.Equal(t, int32(1), cleared.Load())

	_, err := store.Session(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestClient_UnauthorizedWithoutRefreshToken(t *testing.T) {
	ts := &tokenServer{validToken: "new"}
	server := httptest.NewServer(ts.handler())
	defer server.Close()

	store := newStore(t, "old", "")
	client := newClient(t, server.URL, store)

	_, err := client.Get(context.Background(), "/x")
	assert.True(t, gateway.IsKind(err, gateway.KindAuthExpired))
	assert.ErrorIs(t, err, gateway.ErrNoRefreshToken)
	assert.Equal(t, int32(0), ts.refreshCalls.Load())

	token, err := store.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestClient_SecondUnauthorizedIsNotRefreshedAgain(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		writeEnvelope(w, 200, "OK", map[string]string{"token": "still-bad"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, "old", "ref"))

	_, err := client.Get(context.Background(), "/x")
	assert.True(t, gateway.IsKind(err, gateway.KindAuthExpired))
	assert.Equal(t, int32(1), refreshCalls.Load())
}

func TestClient_ProactiveRefreshForExpiredJWT(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	var sawExpired atomic.Bool
	ts := &tokenServer{validToken: "new"}
	mux := http.NewServeMux()
	mux.Handle("/auth/refresh-token", ts.handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+expired {
			sawExpired.Store(true)
		}
		ts.handler().ServeHTTP(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newClient(t, server.URL, newStore(t, expired, "ref"))

	_, err = client.Get(context.Background(), "/x")
	require.NoError(t, err)
	assert.False(t, sawExpired.Load())
	assert.Equal(t, int32(1), ts.refreshCalls.Load())
}

func TestNew_Validation(t *testing.T) {
	_, err := gateway.New(gateway.Config{Tokens: newStore(t, "", "")})
	require.Error(t, err)

	_, err = gateway.New(gateway.Config{BaseURL: "http://localhost"})
	require.Error(t, err)
}
