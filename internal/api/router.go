// Package api is the local control API of the zonewatch agent.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/api/handler"
	"github.com/zonewatch/zonewatch/internal/api/middleware"
	"github.com/zonewatch/zonewatch/internal/tracking"
)

// RouterConfig wires the agent components into the router. Components left nil have their
// routes omitted.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// ControlToken, when set, is required as a bearer token on every /v1 route except health.
	ControlToken string
	RateLimit    middleware.RateLimitConfig

	Engine     handler.TrackingEngine
	Sender     tracking.LocationSender
	Sessions   handler.SessionStore
	Workflow   handler.RequestWorkflow
	Background handler.BackgroundTracker
	Realtime   handler.RealtimeConfig
	Guidance   handler.GuidanceSource
}

// NewRouter creates the chi router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ContentTypeJSON)

	rateLimit := cfg.RateLimit
	if rateLimit.RequestLimit <= 0 {
		rateLimit = middleware.DefaultRateLimit
	}

	channel := cfg.Realtime.Channel
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Engine, channel)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ops/health", opsHandler.HealthCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ControlToken(cfg.ControlToken))
			r.Use(middleware.RateLimitByIP(rateLimit))
			r.Use(middleware.RequireJSON)

			if cfg.Engine != nil && cfg.Sessions != nil {
				sessions := handler.NewSessionHandler(cfg.Engine, cfg.Sender, cfg.Sessions, channel, cfg.Logger)
				r.Put("/session", sessions.PutSession)
				r.Delete("/session", sessions.DeleteSession)
			}

			if cfg.Workflow != nil {
				requests := handler.NewRequestHandler(cfg.Workflow, cfg.Logger)
				r.Post("/requests/{id}/accept", requests.Accept)
				r.Post("/requests/{id}/decline", requests.Decline)
			}

			if cfg.Engine != nil {
				tracker := handler.NewTrackingHandler(cfg.Engine, cfg.Guidance, cfg.Logger)
				r.Get("/tracking", tracker.GetTracking)
				r.Post("/tracking/start", tracker.StartTracking)
				r.Post("/tracking/stop", tracker.StopTracking)
			}

			if cfg.Background != nil {
				bg := handler.NewBackgroundHandler(cfg.Background, cfg.Guidance, cfg.Logger)
				r.Get("/background", bg.GetBackground)
				r.Post("/background/start", bg.StartBackground)
				r.Post("/background/stop", bg.StopBackground)
			}

			if channel != nil && cfg.Realtime.Sessions != nil {
				rtCfg := cfg.Realtime
				rtCfg.Logger = cfg.Logger
				rt := handler.NewRealtimeHandler(rtCfg)
				r.Get("/realtime", rt.GetRealtime)
				r.Post("/realtime/connect", rt.Connect)
				r.Post("/realtime/disconnect", rt.Disconnect)
			}
		})
	})

	return r
}
