package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// QuoteSource fetches a live top of book from the exchange.
type QuoteSource interface {
	GetOrderbook(ctx context.Context, symbol string) (domain.Quote, error)
}

// PriceService is the price oracle. Live quotes come from the exchange order
// book; the Redis price cache serves the monitor and reporting paths.
type PriceService struct {
	source  QuoteSource
	cache   domain.PriceCache
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewPriceService creates a PriceService. Cached quotes older than maxAge are
// treated as missing. cache may be nil, in which case every read is live.
func NewPriceService(source QuoteSource, cache domain.PriceCache, maxAge, timeout time.Duration, logger *slog.Logger) *PriceService {
	return &PriceService{
		source:  source,
		cache:   cache,
		maxAge:  maxAge,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "price_service")),
	}
}

// Quote returns a live quote for symbol. A book with an empty or crossed side
// is an error.
func (s *PriceService) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	q, err := s.source.GetOrderbook(ctx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("price_service: quote %s: %w", symbol, err)
	}
	if !q.Valid() {
		return domain.Quote{}, fmt.Errorf("price_service: quote %s: bid %.8g ask %.8g: %w",
			symbol, q.BestBid, q.BestAsk, domain.ErrExchange)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.Time.IsZero() {
		q.Time = s.now().UTC()
	}
	return q, nil
}

// Collect fetches a live quote and stores it in the cache.
func (s *PriceService) Collect(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := s.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, q); err != nil {
			return q, fmt.Errorf("price_service: cache quote %s: %w", symbol, err)
		}
	}
	return q, nil
}

// Latest returns a cached quote when one is fresh enough, otherwise a live
// one. The returned flag reports whether the quote came from the cache.
func (s *PriceService) Latest(ctx context.Context, symbol string) (domain.Quote, bool, error) {
	if s.cache != nil {
		q, err := s.cache.GetQuote(ctx, symbol)
		switch {
		case err == nil && s.fresh(q):
			return q, true, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "price cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	q, err := s.Quote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, false, err
	}
	return q, false, nil
}

// LatestMany returns fresh cached quotes for symbols. Missing or stale
// symbols are fetched live; symbols that cannot be priced are omitted.
func (s *PriceService) LatestMany(ctx context.Context, symbols []string) map[string]domain.Quote {
	out := make(map[string]domain.Quote, len(symbols))
	if s.cache != nil && len(symbols) > 0 {
		cached, err := s.cache.GetQuotes(ctx, symbols)
		if err != nil {
			s.logger.WarnContext(ctx, "price cache read failed", slog.String("error", err.Error()))
		}
		for sym, q := range cached {
			if s.fresh(q) {
				out[sym] = q
			}
		}
	}
	for _, sym := range symbols {
		if _, ok := out[sym]; ok {
			continue
		}
		q, err := s.Quote(ctx, sym)
		if err != nil {
			s.logger.DebugContext(ctx, "live quote failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[sym] = q
	}
	return out
}

func (s *PriceService) fresh(q domain.Quote) bool {
	if !q.Valid() {
		return false
	}
	return s.maxAge <= 0 || s.now().Sub(q.Time) <= s.maxAge
}
