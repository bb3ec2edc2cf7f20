package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/metrics"
)

// monitorLockKey is the distributed lock that keeps one replica evaluating
// risk at a time.
const monitorLockKey = "monitor:risk"

// ErrMonitorRunning is returned by Start when the loop is already running.
var ErrMonitorRunning = errors.New("monitor already running")

// MonitorConfig holds the risk loop timings.
type MonitorConfig struct {
	Interval      time.Duration
	SymbolTimeout time.Duration
	Concurrency   int
}

// LatestQuoter returns the freshest available quote for a symbol.
type LatestQuoter interface {
	Latest(ctx context.Context, symbol string) (domain.Quote, bool, error)
}

// SettingsRefresher reloads settings from storage.
type SettingsRefresher interface {
	Refresh(ctx context.Context) error
}

// Monitor periodically evaluates every OPEN position against the risk rules
// and closes the ones that trip. A failure on one symbol never stops the
// others or the loop.
type Monitor struct {
	ledger   domain.PositionLedger
	prices   LatestQuoter
	guard    *RiskGuard
	settings SettingsRefresher
	locks    domain.LockManager
	cfg      MonitorConfig
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates a Monitor. settings and locks may be nil.
func NewMonitor(
	ledger domain.PositionLedger,
	prices LatestQuoter,
	guard *RiskGuard,
	settings SettingsRefresher,
	locks domain.LockManager,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Monitor{
		ledger:   ledger,
		prices:   prices,
		guard:    guard,
		settings: settings,
		locks:    locks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "monitor")),
	}
}

// Run evaluates risk every interval until ctx is cancelled. Iteration errors
// are logged and counted; Run itself only returns when ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "risk monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("concurrency", m.cfg.Concurrency),
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			metrics.MonitorErrors.WithLabelValues("risk").Inc()
			m.logger.ErrorContext(ctx, "risk iteration failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "risk monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single risk pass over all OPEN positions. It returns an
// error only when the pass could not start.
func (m *Monitor) RunOnce(ctx context.Context) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, monitorLockKey, 2*m.cfg.Interval)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			m.logger.DebugContext(ctx, "risk pass skipped: lock held elsewhere")
			return nil
		case err != nil:
			// Closing is idempotent under the symbol lock, so run unlocked
			// rather than leave positions unprotected.
			m.logger.WarnContext(ctx, "risk lock unavailable, running unlocked", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	if m.settings != nil {
		if err := m.settings.Refresh(ctx); err != nil {
			m.logger.WarnContext(ctx, "settings refresh failed, using cached settings", slog.String("error", err.Error()))
		}
	}

	open, err := m.ledger.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list open positions: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(open)))

	bySymbol := make(map[string][]domain.Position)
	ids := make([]string, 0, len(open))
	for _, p := range open {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
		ids = append(ids, p.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for symbol, positions := range bySymbol {
		g.Go(func() error {
			sctx := gctx
			if m.cfg.SymbolTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, m.cfg.SymbolTimeout)
				defer cancel()
			}
			if err := m.checkSymbol(sctx, symbol, positions); err != nil {
				metrics.MonitorErrors.WithLabelValues("risk").Inc()
				m.logger.WarnContext(ctx, "risk check failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.guard.Retain(ids)
	metrics.MonitorIterations.WithLabelValues("risk").Inc()
	return nil
}

func (m *Monitor) checkSymbol(ctx context.Context, symbol string, positions []domain.Position) error {
	q, _, err := m.prices.Latest(ctx, symbol)
	if err != nil {
		return err
	}
	price := q.Mid()

	var errs []error
	for _, p := range positions {
		eval := m.guard.Evaluate(p, price)
		if !eval.Close {
			continue
		}
		if _, err := m.guard.Close(ctx, p, price, eval); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start runs the loop in a background goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer m.running.Store(false)
		_ = m.Run(runCtx)
	}()
	return nil
}

// Stop cancels a loop started with Start and waits up to timeout for it to
// finish. Stopping a monitor that is not running is a no-op.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("monitor: stop: loop did not exit within %s", timeout)
	}
}

// Running reports whether a loop started with Start is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}
