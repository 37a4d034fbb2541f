package geofence_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/geofence"
	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/internal/storage"
	"github.com/zonewatch/zonewatch/pkg/geo"
)

type backend struct {
	mu          sync.Mutex
	acceptCode  int
	updateCode  int
	calls       []string
	lastUpdate  *geofence.LocationUpdate
	updateCount atomic.Int32
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, code int, desc string) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"responseCode": code, "responseDescription": desc},
			"data":   map[string]any{},
		})
	}
	mux.HandleFunc("/geofence/requests/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls = append(b.calls, r.URL.Path)
		code := b.acceptCode
		b.mu.Unlock()
		if code == 0 {
			code = 200
		}
		desc := "OK"
		if code == gateway.CodeAlreadyAdded {
			desc = "Already added"
		}
		reply(w, code, desc)
	})
	mux.HandleFunc(geofence.UpdateLocationPath, func(w http.ResponseWriter, r *http.Request) {
		var u geofence.LocationUpdate
		_ = json.NewDecoder(r.Body).Decode(&u)
		b.mu.Lock()
		b.lastUpdate = &u
		code := b.updateCode
		b.mu.Unlock()
		b.updateCount.Add(1)
		if code == 0 {
			code = 200
		}
		reply(w, code, "")
	})
	return mux
}

func (b *backend) set(acceptCode, updateCode int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acceptCode = acceptCode
	b.updateCode = updateCode
}

type failingProvider struct{}

func (failingProvider) Watch(context.Context, location.WatchOptions) (<-chan location.Sample, error) {
	return nil, errors.New("not supported")
}

func (failingProvider) Current(context.Context, location.Accuracy) (location.Sample, error) {
	return location.Sample{}, location.ErrUnavailable
}

type fixedProvider struct{ sample location.Sample }

func (p fixedProvider) Watch(context.Context, location.WatchOptions) (<-chan location.Sample, error) {
	return nil, errors.New("not supported")
}

func (p fixedProvider) Current(context.Context, location.Accuracy) (location.Sample, error) {
	return p.sample, nil
}

type fakeTracker struct {
	starts atomic.Int32
	err    error
}

func (t *fakeTracker) Start(context.Context) error {
	t.starts.Add(1)
	return t.err
}

var fallback = geo.Coordinate{Latitude: 24.7136, Longitude: 46.6753}

type fixture struct {
	backend  *backend
	server   *httptest.Server
	tracker  *fakeTracker
	perms    *permission.StaticAPI
	workflow *geofence.Workflow
}

func newFixture(t *testing.T, provider location.Provider, foreground permission.Status) *fixture {
	t.Helper()
	b := &backend{}
	server := httptest.NewServer(b.handler())
	t.Cleanup(server.Close)

	tokens := auth.NewTokenStore(storage.NewMemoryStore())
	require.NoError(t, tokens.Set(context.Background(), auth.Session{AccessToken: "tok", UserID: "u-1"}))

	gw, err := gateway.New(gateway.Config{BaseURL: server.URL, Tokens: tokens, Logger: zerolog.Nop()})
	require.NoError(t, err)

	api := permission.NewStaticAPI(permission.StaticConfig{ForegroundAnswer: foreground})
	negotiator, err := permission.NewNegotiator(permission.Config{API: api, Platform: permission.PlatformAndroid, Logger: zerolog.Nop()})
	require.NoError(t, err)

	tracker := &fakeTracker{}
	w, err := geofence.NewWorkflow(geofence.WorkflowConfig{
		Client:      geofence.NewClient(gw),
		Provider:    provider,
		Permissions: negotiator,
		Tracker:     tracker,
		Fallback:    fallback,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)

	return &fixture{backend: b, server: server, tracker: tracker, perms: api, workflow: w}
}

func TestAccept_FallbackWhenLocationUnavailable(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)

	result, err := f.workflow.Accept(context.Background(), "req-1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.TrackingStarted)
	assert.Equal(t, 200, result.ResponseCode)
	assert.Equal(t, int32(1), f.tracker.starts.Load())

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	assert.Equal(t, []string{"/geofence/requests/req-1/accept"}, f.backend.calls)
	require.NotNil(t, f.backend.lastUpdate)
	assert.Equal(t, fallback.Latitude, f.backend.lastUpdate.Latitude)
	assert.Equal(t, fallback.Longitude, f.backend.lastUpdate.Longitude)
	assert.Nil(t, f.backend.lastUpdate.Accuracy)
	assert.Equal(t, int64(1700000000000), f.backend.lastUpdate.Timestamp)
}

func TestAccept_UsesCurrentLocation(t *testing.T) {
	sample := location.NewSample(geo.Coordinate{Latitude: 10, Longitude: 20}, 12, 1.5, 90, time.UnixMilli(42))
	f := newFixture(t, fixedProvider{sample: sample}, permission.StatusGranted)

	result, err := f.workflow.Accept(context.Background(), "req-2")
	require.NoError(t, err)
	assert.True(t, result.Success)

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	u := f.backend.lastUpdate
	require.NotNil(t, u)
	assert.Equal(t, 10.0, u.Latitude)
	require.NotNil(t, u.Accuracy)
	assert.Equal(t, 12.0, *u.Accuracy)
	assert.Equal(t, 1.5, u.Speed)
	assert.Equal(t, 90.0, u.Heading)
	assert.Equal(t, int64(42), u.Timestamp)
}

func TestAccept_LocationUpdateFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)
	f.backend.set(0, 500)

	result, err := f.workflow.Accept(context.Background(), "req-3")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.TrackingStarted)
	assert.Equal(t, int32(1), f.backend.updateCount.Load())
}

func TestAccept_AlreadyAcceptedPropagatesServerResponse(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)
	f.backend.set(gateway.CodeAlreadyAdded, 0)

	result, err := f.workflow.Accept(context.Background(), "req-4")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.Retryable)
	assert.Equal(t, gateway.CodeAlreadyAdded, result.ResponseCode)
	assert.Equal(t, "Already added", result.Message)
	assert.Equal(t, int32(0), f.backend.updateCount.Load())
	assert.Equal(t, int32(0), f.tracker.starts.Load())
}

func TestAccept_PermissionDeniedReturnsGuidance(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusDenied)

	result, err := f.workflow.Accept(context.Background(), "req-5")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.TrackingStarted)
	require.NotNil(t, result.Guidance)
	assert.Equal(t, permission.CapabilityForeground, result.Guidance.Capability)
	assert.Equal(t, int32(0), f.tracker.starts.Load())
}

func TestAccept_NetworkFailureIsRetryable(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)
	f.server.Close()

	result, err := f.workflow.Accept(context.Background(), "req-6")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.NotEmpty(t, result.Message)
}

func TestDecline_NoTrackingSideEffects(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)

	result, err := f.workflow.Decline(context.Background(), "req-7")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(0), f.tracker.starts.Load())
	assert.Equal(t, int32(0), f.backend.updateCount.Load())
	assert.Equal(t, int32(0), f.perms.ForegroundPrompts.Load())

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	assert.Equal(t, []string{"/geofence/requests/req-7/decline"}, f.backend.calls)
}

func TestAccept_EmptyRequestID(t *testing.T) {
	f := newFixture(t, failingProvider{}, permission.StatusGranted)
	_, err := f.workflow.Accept(context.Background(), "")
	require.ErrorIs(t, err, geofence.ErrEmptyRequestID)
}
