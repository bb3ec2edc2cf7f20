package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

type fakeExchange struct {
	mu       sync.Mutex
	products map[string]domain.Product
	findErr  error
	placeErr error
	finds    int
	placed   []domain.OrderRequest
}

func (e *fakeExchange) FindPerpetual(_ context.Context, symbol string) (domain.Product, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finds++
	if e.findErr != nil {
		return domain.Product{}, e.findErr
	}
	p, ok := e.products[symbol]
	if !ok {
		return domain.Product{}, domain.ErrUnknownProduct
	}
	return p, nil
}

func (e *fakeExchange) PlaceLimitOrder(_ context.Context, productID int, side domain.Side, size, price float64) (domain.PlacedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.placeErr != nil {
		return domain.PlacedOrder{}, e.placeErr
	}
	e.placed = append(e.placed, domain.OrderRequest{Side: side, Size: size, Price: price})
	return domain.PlacedOrder{ID: "ord-1", State: "open"}, nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (l fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, l.err
}

type orderFixture struct {
	book     *fakeBook
	exchange *fakeExchange
	settings *staticSettings
	svc      *OrderService
}

func newOrderFixture(t *testing.T, limiter domain.RateLimiter) *orderFixture {
	t.Helper()
	book := newFakeBook()
	exchange := &fakeExchange{products: map[string]domain.Product{
		"SOLUSD": {ID: 99, Symbol: "SOLUSD", ContractType: "perpetual_futures"},
	}}
	settings := newStaticSettings(domain.RiskSettings{TradingEnabled: true})
	prices := NewPriceService(book, nil, 0, time.Second, discardLogger())
	svc := NewOrderService(exchange, prices, limiter, settings, newMemBus(), nil, OrderConfig{
		ProductIDs: map[string]int{"btcusd": 27},
		RateLimit:  5,
		RateWindow: time.Second,
	}, discardLogger())
	return &orderFixture{book: book, exchange: exchange, settings: settings, svc: svc}
}

func TestVerifyPrice_ToleranceBoundary(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	f.book.setMid("BTCUSD", 101.9)
	check := f.svc.VerifyPrice(ctx, "BTCUSD", 100, 0.02)
	assert.True(t, check.Valid)
	assert.InDelta(t, 101.9, check.MarketMid, 1e-9)
	assert.InDelta(t, 1.9/101.9, check.Deviation, 1e-9)

	f.book.setMid("BTCUSD", 103)
	check = f.svc.VerifyPrice(ctx, "BTCUSD", 100, 0.02)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Message, "100")
	assert.Contains(t, check.Message, "103")
	assert.Contains(t, check.Message, "2.91%")
}

func TestVerifyPrice_DefaultTolerance(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.book.setMid("BTCUSD", 101.9)

	check := f.svc.VerifyPrice(context.Background(), "BTCUSD", 100, 0)
	assert.True(t, check.Valid)
	assert.Equal(t, DefaultPriceTolerance, check.Tolerance)
}

func TestVerifyPrice_FailsClosed(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	f.book.errs["BTCUSD"] = errors.New("connection refused")
	check := f.svc.VerifyPrice(ctx, "BTCUSD", 100, 0.02)
	assert.False(t, check.Valid)
	assert.Contains(t, check.Message, "connection refused")

	f.book.quotes["ETHUSD"] = domain.Quote{Symbol: "ETHUSD", BestBid: 0, BestAsk: 3000}
	check = f.svc.VerifyPrice(ctx, "ETHUSD", 3000, 0.02)
	assert.False(t, check.Valid)

	check = f.svc.VerifyPrice(ctx, "UNKNOWN", 10, 0.02)
	assert.False(t, check.Valid)
}

func TestPlaceOrder_Blocked(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.book.setMid("BTCUSD", 110)

	res := f.svc.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
	assert.Equal(t, domain.OrderStatusBlocked, res.Status)
	assert.True(t, res.Blocked())
	assert.Empty(t, f.exchange.placed)
}

func TestPlaceOrder_DryRunStillVerifies(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.settings.set(func(s *domain.RiskSettings) { s.TradingEnabled = false })
	f.book.setMid("BTCUSD", 100)

	res := f.svc.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
	assert.True(t, res.DryRun())
	assert.Equal(t, 100.0, res.MarketPrice)
	assert.Equal(t, 1, f.book.calls)
	assert.Empty(t, f.exchange.placed)

	f.book.setMid("BTCUSD", 150)
	res = f.svc.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
	assert.True(t, res.Blocked())
}

func TestPlaceOrder_StaticProduct(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.book.setMid("BTCUSD", 100)

	res := f.svc.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideSell, Price: 100, Size: 1})
	require.True(t, res.Success(), res.Message)
	assert.Equal(t, 27, res.ProductID)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, "open", res.State)
	assert.Zero(t, f.exchange.finds)
	require.Len(t, f.exchange.placed, 1)
	assert.Equal(t, domain.SideSell, f.exchange.placed[0].Side)
	assert.Equal(t, 100.0, f.exchange.placed[0].Price)
}

func TestPlaceOrder_DiscoveredProductIsCached(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.book.setMid("SOLUSD", 150)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "SOLUSD", Side: domain.SideBuy, Price: 150, Size: 1})
		require.True(t, res.Success())
		assert.Equal(t, 99, res.ProductID)
	}
	assert.Equal(t, 1, f.exchange.finds)
}

func TestPlaceOrder_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown product", func(t *testing.T) {
		f := newOrderFixture(t, nil)
		f.book.setMid("DOGEUSD", 1)
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "DOGEUSD", Side: domain.SideBuy, Price: 1, Size: 1})
		assert.Equal(t, domain.OrderStatusFailed, res.Status)
		assert.Contains(t, res.Error, domain.ErrUnknownProduct.Error())
	})

	t.Run("exchange rejects", func(t *testing.T) {
		f := newOrderFixture(t, nil)
		f.book.setMid("BTCUSD", 100)
		f.exchange.placeErr = errors.New("insufficient margin")
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
		assert.Equal(t, domain.OrderStatusFailed, res.Status)
		assert.Contains(t, res.Error, "insufficient margin")
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newOrderFixture(t, fakeLimiter{allow: false})
		f.book.setMid("BTCUSD", 100)
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
		assert.Equal(t, domain.OrderStatusFailed, res.Status)
		assert.Equal(t, domain.ErrRateLimited.Error(), res.Error)
		assert.Empty(t, f.exchange.placed)
	})

	t.Run("limiter outage does not block", func(t *testing.T) {
		f := newOrderFixture(t, fakeLimiter{err: errors.New("redis down")})
		f.book.setMid("BTCUSD", 100)
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Side: domain.SideBuy, Price: 100, Size: 1})
		assert.True(t, res.Success())
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newOrderFixture(t, nil)
		res := f.svc.PlaceOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Side: "HOLD", Price: 100, Size: 1})
		assert.Equal(t, domain.OrderStatusFailed, res.Status)
		assert.Zero(t, f.book.calls)
	})
}
