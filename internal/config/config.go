// Package config loads agent settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/location"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/pkg/geo"
)

// Realtime transports.
const (
	TransportSTOMP = "stomp"
	TransportMQTT  = "mqtt"
)

// Config holds agent and background task settings.
type Config struct {
	Environment string
	LogLevel    zerolog.Level

	// Backend
	APIBaseURL     string
	RequestTimeout time.Duration

	// Realtime
	RealtimeTransport string
	RealtimeURL       string

	// Local state shared with the background task.
	StorePath string

	// Location source: a polyline route takes precedence over a fix file.
	LocationFile   string
	LocationPeriod time.Duration
	RoutePolyline  string
	RouteStep      float64
	RouteInterval  time.Duration
	Fallback       geo.Coordinate

	// Permissions
	Platform             permission.Platform
	AppID                string
	ForegroundPermission permission.Status
	BackgroundPermission permission.Status
	ForegroundAnswer     permission.Status
	BackgroundAnswer     permission.Status

	// Control API
	Port         string
	ControlToken string
	RateLimitRPM int

	// Background task
	PollInterval time.Duration

	// OpenTelemetry
	OTelEnabled  bool
	OTLPEndpoint string
}

// FromEnv reads Config from ZONEWATCH_* variables and the standard OTEL_* ones.
func FromEnv() (Config, error) {
	var errs []error

	level, err := zerolog.ParseLevel(getEnvOrDefault("ZONEWATCH_LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ZONEWATCH_LOG_LEVEL: %w", err))
	}

	platform, err := permission.ParsePlatform(getEnvOrDefault("ZONEWATCH_PLATFORM", "android"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ZONEWATCH_PLATFORM: %w", err))
	}

	cfg := Config{
		Environment:          getEnvOrDefault("APP_ENV", "development"),
		LogLevel:             level,
		APIBaseURL:           getEnvOrDefault("ZONEWATCH_API_BASE_URL", "http://localhost:8080/api/v1"),
		RequestTimeout:       duration(&errs, "ZONEWATCH_REQUEST_TIMEOUT", "15s"),
		RealtimeTransport:    strings.ToLower(getEnvOrDefault("ZONEWATCH_REALTIME_TRANSPORT", TransportSTOMP)),
		RealtimeURL:          getEnvOrDefault("ZONEWATCH_REALTIME_URL", "ws://localhost:8080/ws"),
		StorePath:            getEnvOrDefault("ZONEWATCH_STORE_PATH", "zonewatch.db"),
		LocationFile:         os.Getenv("ZONEWATCH_LOCATION_FILE"),
		LocationPeriod:       duration(&errs, "ZONEWATCH_LOCATION_PERIOD", "1s"),
		RoutePolyline:        os.Getenv("ZONEWATCH_ROUTE_POLYLINE"),
		RouteStep:            float(&errs, "ZONEWATCH_ROUTE_STEP_METERS", "10"),
		RouteInterval:        duration(&errs, "ZONEWATCH_ROUTE_INTERVAL", "1s"),
		Platform:             platform,
		AppID:                getEnvOrDefault("ZONEWATCH_APP_ID", "com.zonewatch.app"),
		ForegroundPermission: status(&errs, "ZONEWATCH_PERMISSION_FOREGROUND", permission.StatusUndetermined),
		BackgroundPermission: status(&errs, "ZONEWATCH_PERMISSION_BACKGROUND", permission.StatusUndetermined),
		ForegroundAnswer:     status(&errs, "ZONEWATCH_PERMISSION_FOREGROUND_ANSWER", permission.StatusGranted),
		BackgroundAnswer:     status(&errs, "ZONEWATCH_PERMISSION_BACKGROUND_ANSWER", permission.StatusDenied),
		Port:                 getEnvOrDefault("APP_PORT", "8090"),
		ControlToken:         os.Getenv("ZONEWATCH_CONTROL_TOKEN"),
		RateLimitRPM:         integer(&errs, "ZONEWATCH_RATE_LIMIT_RPM", "120"),
		PollInterval:         duration(&errs, "ZONEWATCH_BACKGROUND_POLL_INTERVAL", "2s"),
		OTelEnabled:          os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:         getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	cfg.Fallback = geo.Coordinate{
		Latitude:  float(&errs, "ZONEWATCH_FALLBACK_LAT", "0"),
		Longitude: float(&errs, "ZONEWATCH_FALLBACK_LON", "0"),
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func (c Config) validate() error {
	var errs []error
	if c.RealtimeTransport != TransportSTOMP && c.RealtimeTransport != TransportMQTT {
		errs = append(errs, fmt.Errorf("ZONEWATCH_REALTIME_TRANSPORT: unknown transport %q", c.RealtimeTransport))
	}
	if err := c.Fallback.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fallback coordinate: %w", err))
	}
	if c.RouteStep <= 0 {
		errs = append(errs, errors.New("ZONEWATCH_ROUTE_STEP_METERS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func duration(errs *[]error, key, def string) time.Duration {
	d, err := time.ParseDuration(getEnvOrDefault(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return d
}

func float(errs *[]error, key, def string) float64 {
	f, err := strconv.ParseFloat(getEnvOrDefault(key, def), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return f
}

func integer(errs *[]error, key, def string) int {
	n, err := strconv.Atoi(getEnvOrDefault(key, def))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
	}
	return n
}

func status(errs *[]error, key string, def permission.Status) permission.Status {
	s := permission.Status(strings.ToLower(getEnvOrDefault(key, string(def))))
	switch s {
	case permission.StatusGranted, permission.StatusDenied, permission.StatusUndetermined:
		return s
	}
	*errs = append(*errs, fmt.Errorf("%s: unknown permission status %q", key, s))
	return def
}

// LocationProvider builds the configured location source.
func (c Config) LocationProvider(logger zerolog.Logger) (location.Provider, error) {
	switch {
	case c.RoutePolyline != "":
		return location.NewRouteProvider(c.RoutePolyline, c.RouteStep, c.RouteInterval)
	case c.LocationFile != "":
		return location.NewFileProvider(c.LocationFile, c.LocationPeriod, logger), nil
	default:
		return nil, errors.New("no location source: set ZONEWATCH_ROUTE_POLYLINE or ZONEWATCH_LOCATION_FILE")
	}
}
