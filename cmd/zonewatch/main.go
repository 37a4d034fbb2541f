// Package main runs the zonewatch agent: foreground tracking, realtime sync and the local
// control API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api"
	"github.com/zonewatch/zonewatch/internal/api/handler"
	"github.com/zonewatch/zonewatch/internal/api/middleware"
	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/background"
	"github.com/zonewatch/zonewatch/internal/config"
	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/geofence"
	"github.com/zonewatch/zonewatch/internal/permission"
	"github.com/zonewatch/zonewatch/internal/realtime"
	"github.com/zonewatch/zonewatch/internal/realtime/mqtt"
	"github.com/zonewatch/zonewatch/internal/realtime/stomp"
	"github.com/zonewatch/zonewatch/internal/storage"
	"github.com/zonewatch/zonewatch/internal/telemetry"
	"github.com/zonewatch/zonewatch/internal/tracking"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "zonewatch-agent"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.LogLevel)
	log.Info().Str("build_time", BuildTime).Msg("starting zonewatch agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	if err := run(ctx, cfg, tp, log); err != nil {
		log.Error().Err(err).Msg("agent stopped with error")
		os.Exit(1) //nolint:gocritic // telemetry flush is best-effort
	}
	log.Info().Msg("agent stopped")
}

func run(ctx context.Context, cfg config.Config, tp *telemetry.Provider, log zerolog.Logger) error {
	metrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return err
	}
	httpMetrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		return err
	}

	kv, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{Path: cfg.StorePath})
	if err != nil {
		return err
	}
	defer kv.Close()
	log.Info().Str("path", cfg.StorePath).Msg("session store opened")

	tokens := auth.NewTokenStore(kv)

	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
		Tokens:  tokens,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	geofenceClient := geofence.NewClient(gw)

	negotiator, err := permission.NewNegotiator(permission.Config{
		API: permission.NewStaticAPI(permission.StaticConfig{
			Foreground:                    cfg.ForegroundPermission,
			Background:                    cfg.BackgroundPermission,
			ForegroundAnswer:              cfg.ForegroundAnswer,
			BackgroundAnswer:              cfg.BackgroundAnswer,
			ServicesEnabled:               true,
			GrantForegroundWithBackground: !cfg.Platform.StagedBackground(),
		}),
		Platform: cfg.Platform,
		AppID:    cfg.AppID,
		Guidance: func(g permission.Guidance) {
			log.Warn().Str("capability", string(g.Capability)).Str("settings_url", g.SettingsURL).Msg(g.Message)
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	if _, err := negotiator.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to read permission state")
	}

	provider, err := cfg.LocationProvider(log)
	if err != nil {
		return err
	}

	engine, err := tracking.NewEngine(tracking.Config{
		Provider:    provider,
		Permissions: negotiator,
		Tokens:      tokens,
		Logger:      log,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}
	// A session left by a previous run is picked up without re-persisting it.
	if _, err := tokens.Session(ctx); err == nil {
		if err := engine.Initialize(ctx, geofenceClient, nil); err != nil {
			return err
		}
		log.Info().Msg("restored session")
	}

	workflow, err := geofence.NewWorkflow(geofence.WorkflowConfig{
		Client:      geofenceClient,
		Provider:    provider,
		Permissions: negotiator,
		Tracker:     engine,
		Fallback:    cfg.Fallback,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	manager, err := background.NewManager(background.ManagerConfig{KV: kv, Logger: log})
	if err != nil {
		return err
	}
	bgTracker := background.NewTracker(manager, negotiator, log)

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	channel, err := realtime.NewChannel(realtime.Config{Transport: transport, Logger: log, Metrics: metrics})
	if err != nil {
		return err
	}
	channel.OnDisconnect(func(err error) {
		if err != nil {
			log.Warn().Err(err).Msg("realtime connection lost; POST /v1/realtime/connect to reconnect")
		}
	})

	tokens.OnCleared(func() {
		log.Warn().Msg("session cleared, stopping tracking and realtime")
		engine.Stop()
		channel.Disconnect()
	})

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		Metrics:      httpMetrics,
		ControlToken: cfg.ControlToken,
		RateLimit:    middleware.PerMinute(cfg.RateLimitRPM),
		Engine:       engine,
		Sender:       geofenceClient,
		Sessions:     tokens,
		Workflow:     workflow,
		Background:   bgTracker,
		Realtime:     handler.RealtimeConfig{Channel: channel, Sessions: tokens},
		Guidance:     negotiator,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("control API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}
	channel.Disconnect()
	return engine.Shutdown(shutdownCtx)
}

func newTransport(cfg config.Config, log zerolog.Logger) (realtime.Transport, error) {
	if cfg.RealtimeTransport == config.TransportMQTT {
		return mqtt.NewTransport(mqtt.Config{BrokerURL: cfg.RealtimeURL, QoS: mqtt.DefaultQoS, Logger: log})
	}
	return stomp.NewTransport(stomp.Config{URL: cfg.RealtimeURL, Logger: log})
}
