package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/metrics"
)

// symbolRefreshEvery is how many collection cycles pass between reloads of
// the open symbol list.
const symbolRefreshEvery = 10

// Collector stores a fresh quote for a symbol.
type Collector interface {
	Collect(ctx context.Context, symbol string) (domain.Quote, error)
}

// SymbolLister lists symbols with OPEN positions.
type SymbolLister interface {
	OpenSymbols(ctx context.Context) ([]string, error)
}

// PriceCollector keeps the price cache warm for every open symbol plus a
// fixed watch list.
type PriceCollector struct {
	collector Collector
	symbols   SymbolLister
	watch     []string
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// NewPriceCollector creates a PriceCollector.
func NewPriceCollector(collector Collector, symbols SymbolLister, watch []string, interval, timeout time.Duration, logger *slog.Logger) *PriceCollector {
	if interval <= 0 {
		interval = time.Second
	}
	return &PriceCollector{
		collector: collector,
		symbols:   symbols,
		watch:     watch,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "price_collector")),
	}
}

// Run collects quotes every interval until ctx is cancelled.
func (c *PriceCollector) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "price collector started", slog.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var symbols []string
	for cycle := 0; ; cycle++ {
		if cycle%symbolRefreshEvery == 0 {
			symbols = c.refreshSymbols(ctx, symbols)
		}
		c.collect(ctx, symbols)
		metrics.MonitorIterations.WithLabelValues("price").Inc()

		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "price collector stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// refreshSymbols returns the watch list merged with open symbols. On a
// listing failure the previous list is kept.
func (c *PriceCollector) refreshSymbols(ctx context.Context, prev []string) []string {
	open, err := c.symbols.OpenSymbols(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.WarnContext(ctx, "list open symbols failed", slog.String("error", err.Error()))
		}
		if prev != nil {
			return prev
		}
	}
	return mergeSymbols(c.watch, open)
}

func (c *PriceCollector) collect(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		sctx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		_, err := c.collector.Collect(sctx, sym)
		cancel()
		if err != nil && ctx.Err() == nil {
			metrics.MonitorErrors.WithLabelValues("price").Inc()
			c.logger.DebugContext(ctx, "collect quote failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		}
	}
}

func mergeSymbols(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
