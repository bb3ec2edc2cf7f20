package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/signalbot/internal/server"
	"github.com/alanyoungcy/signalbot/internal/server/handler"
	"github.com/alanyoungcy/signalbot/internal/server/ws"
	"github.com/alanyoungcy/signalbot/internal/service"
)

// services holds the domain services shared by every mode.
type services struct {
	settings  *service.SettingsService
	prices    *service.PriceService
	orders    *service.OrderService
	manager   *service.PositionManager
	guard     *service.RiskGuard
	processor *service.SignalProcessor
	reports   *service.ReportService
	monitor   *service.Monitor
	collector *service.PriceCollector
}

func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	settings := service.NewSettingsService(deps.Settings, a.cfg.RiskSettings(), deps.EventBus, deps.Audit, deps.Notifier, a.logger)
	if err := settings.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	prices := service.NewPriceService(
		deps.Exchange,
		deps.PriceCache,
		a.cfg.Redis.QuoteTTL.Duration,
		a.cfg.Exchange.Timeout.Duration,
		a.logger,
	)
	orders := service.NewOrderService(
		deps.Exchange,
		prices,
		deps.RateLimiter,
		settings,
		deps.EventBus,
		deps.Audit,
		service.OrderConfig{
			Tolerance:  a.cfg.Exchange.PriceTolerance,
			ProductIDs: a.cfg.Exchange.ProductIDs,
			RateLimit:  a.cfg.Exchange.OrderRateLimit,
			RateWindow: a.cfg.Exchange.OrderRateWindow.Duration,
			Timeout:    a.cfg.Exchange.Timeout.Duration,
		},
		a.logger,
	)
	manager := service.NewPositionManager(
		deps.Positions,
		orders,
		settings,
		deps.EventBus,
		deps.Audit,
		service.PositionConfig{
			Quantity:  a.cfg.Trading.Quantity,
			OrderSize: a.cfg.Trading.OrderSize,
		},
		a.logger,
	)
	guard := service.NewRiskGuard(
		deps.Positions,
		orders,
		settings,
		a.cfg.Trading.OrderSize,
		deps.EventBus,
		deps.Audit,
		deps.Notifier,
		a.logger,
	)
	manager.SetTrailing(guard)
	processor := service.NewSignalProcessor(
		service.NewIntake(deps.Claims),
		orders,
		manager,
		deps.Signals,
		deps.EventBus,
		deps.Notifier,
		a.logger,
	)
	reports := service.NewReportService(deps.Positions, deps.Signals, deps.Audit, prices, guard, settings, a.logger)
	monitor := service.NewMonitor(
		deps.Positions,
		prices,
		guard,
		settings,
		deps.LockManager,
		service.MonitorConfig{
			Interval:      a.cfg.Monitor.RiskInterval.Duration,
			SymbolTimeout: a.cfg.Monitor.SymbolTimeout.Duration,
			Concurrency:   a.cfg.Monitor.Concurrency,
		},
		a.logger,
	)
	collector := service.NewPriceCollector(
		prices,
		deps.Positions,
		a.cfg.Monitor.WatchSymbols,
		a.cfg.Monitor.PriceInterval.Duration,
		a.cfg.Monitor.SymbolTimeout.Duration,
		a.logger,
	)

	return &services{
		settings:  settings,
		prices:    prices,
		orders:    orders,
		manager:   manager,
		guard:     guard,
		processor: processor,
		reports:   reports,
		monitor:   monitor,
		collector: collector,
	}, nil
}

// TradeMode runs the webhook API together with the risk monitor and the
// price collector.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startLoops(ctx, g, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; webhook signals will not be received")
	}

	return g.Wait()
}

// ServerMode runs the webhook API without the background loops. A separate
// process in monitor mode is expected to enforce exits.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// MonitorMode runs only the risk monitor and the price collector.
func (a *App) MonitorMode(ctx context.Context, _ *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startLoops(ctx, g, svc)
	return g.Wait()
}

// startLoops starts the risk monitor and the price collector. The monitor is
// stopped with the configured timeout once ctx is done.
func (a *App) startLoops(ctx context.Context, g *errgroup.Group, svc *services) {
	g.Go(func() error {
		if err := svc.monitor.Start(ctx); err != nil {
			return fmt.Errorf("risk monitor: %w", err)
		}
		<-ctx.Done()
		return svc.monitor.Stop(a.cfg.Monitor.StopTimeout.Duration)
	})

	g.Go(func() error {
		return svc.collector.Run(ctx)
	})
}

// startHTTPServer registers the API handlers, the WebSocket hub and the
// webhook, then serves until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Channels:  ws.DefaultChannels,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger,
			handler.HealthCheck{Name: "postgres", Check: deps.Postgres.Ping},
			handler.HealthCheck{Name: "redis", Check: deps.Redis.Ping},
		),
		Webhook:   handler.NewWebhookHandler(svc.processor, a.cfg.Server.MaxBodySize, a.logger),
		Positions: handler.NewPositionHandler(svc.reports, a.logger),
		Signals:   handler.NewSignalHandler(svc.reports, a.logger),
		Risk:      handler.NewRiskHandler(svc.settings, svc.reports, a.logger),
		Events:    handler.NewEventHandler(deps.EventBus, ws.DefaultChannels, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		WebhookSecret:     a.cfg.Server.WebhookSecret,
		WebhookRateLimit:  a.cfg.Server.WebhookRateLimit,
		WebhookRateWindow: a.cfg.Server.WebhookRateWindow.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
