package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zonewatch/zonewatch/internal/config"
	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/pkg/geo"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, config.TransportSTOMP, cfg.RealtimeTransport)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, permission.PlatformAndroid, cfg.Platform)
	assert.Equal(t, permission.StatusUndetermined, cfg.ForegroundPermission)
	assert.Equal(t, permission.StatusGranted, cfg.ForegroundAnswer)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.False(t, cfg.OTelEnabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("ZONEWATCH_LOG_LEVEL", "debug")
	t.Setenv("ZONEWATCH_REALTIME_TRANSPORT", "MQTT")
	t.Setenv("ZONEWATCH_REALTIME_URL", "tcp://broker:1883")
	t.Setenv("ZONEWATCH_PLATFORM", "ios")
	t.Setenv("ZONEWATCH_PERMISSION_FOREGROUND", "granted")
	t.Setenv("ZONEWATCH_FALLBACK_LAT", "52.37")
	t.Setenv("ZONEWATCH_FALLBACK_LON", "4.89")
	t.Setenv("ZONEWATCH_REQUEST_TIMEOUT", "3s")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, config.TransportMQTT, cfg.RealtimeTransport)
	assert.Equal(t, "tcp://broker:1883", cfg.RealtimeURL)
	assert.Equal(t, permission.PlatformIOS, cfg.Platform)
	assert.Equal(t, permission.StatusGranted, cfg.ForegroundPermission)
	assert.InDelta(t, 52.37, cfg.Fallback.Latitude, 1e-9)
	assert.InDelta(t, 4.89, cfg.Fallback.Longitude, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.OTelEnabled)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"transport", "ZONEWATCH_REALTIME_TRANSPORT", "amqp", "unknown transport"},
		{"duration", "ZONEWATCH_REQUEST_TIMEOUT", "soon", "ZONEWATCH_REQUEST_TIMEOUT"},
		{"platform", "ZONEWATCH_PLATFORM", "symbian", "ZONEWATCH_PLATFORM"},
		{"status", "ZONEWATCH_PERMISSION_BACKGROUND", "maybe", "unknown permission status"},
		{"latitude", "ZONEWATCH_FALLBACK_LAT", "91", "fallback coordinate"},
		{"step", "ZONEWATCH_ROUTE_STEP_METERS", "-1", "must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLocationProvider(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	_, err = cfg.LocationProvider(zerolog.Nop())
	require.Error(t, err)

	cfg.LocationFile = "fix.txt"
	p, err := cfg.LocationProvider(zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &location.FileProvider{}, p)

	cfg.RoutePolyline = geo.EncodePolyline([]geo.Coordinate{
		{Latitude: 52.3791, Longitude: 4.9003},
		{Latitude: 52.3780, Longitude: 4.9020},
	})
	p, err = cfg.LocationProvider(zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &location.RouteProvider{}, p)
}
