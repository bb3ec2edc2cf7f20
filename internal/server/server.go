// Package server exposes the webhook intake, the operator API, Prometheus
// metrics and the event WebSocket over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/server/handler"
	"github.com/alanyoungcy/signalbot/internal/server/middleware"
	"github.com/alanyoungcy/signalbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects /api routes other than health. Empty disables auth.
	APIKey string
	// WebhookSecret protects POST /webhook. Empty disables the check.
	WebhookSecret     string
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Webhook   *handler.WebhookHandler
	Positions *handler.PositionHandler
	Signals   *handler.SignalHandler
	Risk      *handler.RiskHandler
	// Events is optional.
	Events *handler.EventHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, limiter, wsHub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	api := middleware.Auth(cfg.APIKey)

	webhook := middleware.WebhookSecret(cfg.WebhookSecret)(
		middleware.RateLimit(limiter, "ratelimit:webhook", cfg.WebhookRateLimit, cfg.WebhookRateWindow, logger)(
			http.HandlerFunc(handlers.Webhook.Receive)))
	mux.Handle("POST /webhook", webhook)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.Handle("GET /api/positions", api(http.HandlerFunc(handlers.Positions.ListOpen)))
	mux.Handle("GET /api/positions/history", api(http.HandlerFunc(handlers.Positions.History)))
	mux.Handle("POST /api/positions/{id}/close", api(http.HandlerFunc(handlers.Positions.Close)))
	mux.Handle("POST /api/positions/close-all", api(http.HandlerFunc(handlers.Positions.CloseAll)))

	mux.Handle("GET /api/signals", api(http.HandlerFunc(handlers.Signals.List)))
	mux.Handle("GET /api/audit", api(http.HandlerFunc(handlers.Signals.Audit)))

	mux.Handle("GET /api/risk/settings", api(http.HandlerFunc(handlers.Risk.GetSettings)))
	mux.Handle("PUT /api/risk/settings", api(http.HandlerFunc(handlers.Risk.UpdateSettings)))
	mux.Handle("POST /api/risk/panic", api(http.HandlerFunc(handlers.Risk.Panic)))
	mux.Handle("GET /api/risk/stats", api(http.HandlerFunc(handlers.Risk.Stats)))
	mux.Handle("POST /api/risk/check", api(http.HandlerFunc(handlers.Risk.Check)))

	if handlers.Events != nil {
		mux.Handle("GET /api/events/{channel}", api(http.HandlerFunc(handlers.Events.List)))
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	if wsHub != nil {
		mux.Handle("GET /ws", api(http.HandlerFunc(wsHub.HandleWS)))
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
