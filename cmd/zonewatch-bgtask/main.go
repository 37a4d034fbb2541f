// Package main runs the background location task. It shares only the session store and the
// backend with the agent.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/auth"
	"github.com/zonewatch/zonewatch/internal/background"
	"github.com/zonewatch/zonewatch/internal/config"
	"github.com/zonewatch/zonewatch/internal/gateway"
	"github.com/zonewatch/zonewatch/internal/geofence"
	"github.com/zonewatch/zonewatch/internal/storage"
	"github.com/zonewatch/zonewatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "zonewatch-bgtask"

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
		_ = tp.Shutdown(shutdownCtx)
	}()

	if err := run(ctx, cfg, tp, log); err != nil {
		log.Error().Err(err).Msg("background task host stopped with error")
		os.Exit(1) //nolint:gocritic // telemetry flush is best-effort
	}
	log.Info().Msg("background task host stopped")
}

func run(ctx context.Context, cfg config.Config, tp *telemetry.Provider, log zerolog.Logger) error {
	metrics, err := telemetry.NewMetrics(tp.Meter)
	if err != nil {
		return err
	}

	kv, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{Path: cfg.StorePath})
	if err != nil {
		return err
	}
	defer kv.Close()

	// A separate gateway over the same durable store: tokens refreshed here are seen by the
	// agent and the other way round.
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

	provider, err := cfg.LocationProvider(log)
	if err != nil {
		return err
	}

	manager, err := background.NewManager(background.ManagerConfig{
		KV:           kv,
		Provider:     provider,
		PollInterval: cfg.PollInterval,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	task := background.NewTask(background.TaskConfig{
		Sender:  geofence.NewClient(gw),
		Tokens:  tokens,
		Logger:  log,
		Metrics: metrics,
	})
	if err := manager.DefineTask(background.TaskName, task); err != nil {
		return err
	}

	log.Info().Str("task", background.TaskName).Str("store", cfg.StorePath).Msg("background task host running")
	if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
