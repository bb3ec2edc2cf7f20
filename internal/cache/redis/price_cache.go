package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// top of book lives at "quote:{symbol}" with fields bid, ask and ts (Unix
// nanoseconds). Entries expire after ttl so a dead collector cannot serve
// stale quotes forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

func quoteFields(q domain.Quote) map[string]any {
	return map[string]any{
		"bid": strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Time.UnixNano(), 10),
	}
}

// parseQuote decodes a quote hash. It returns domain.ErrNotFound when any
// field is missing.
func parseQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	bidStr, okBid := vals["bid"]
	askStr, okAsk := vals["ask"]
	tsStr, okTS := vals["ts"]
	if !okBid || !okAsk || !okTS {
		return domain.Quote{}, domain.ErrNotFound
	}

	bid, err := strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s: %w", symbol, err)
	}
	ask, err := strconv.ParseFloat(askStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return domain.Quote{Symbol: symbol, BestBid: bid, BestAsk: ask, Time: time.Unix(0, tsNano).UTC()}, nil
}

// SetQuote stores the latest top of book for q.Symbol.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, quoteFields(q))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for symbol. It returns
// domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(symbol, vals)
}

// GetQuotes retrieves quotes for several symbols in one pipeline. Symbols
// without a usable cached quote are omitted.
func (pc *PriceCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, quoteKey(s))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(s, vals)
		if err != nil {
			continue
		}
		result[s] = q
	}
	return result, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
