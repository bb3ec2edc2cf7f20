package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/metrics"
)

// DefaultPriceTolerance is the maximum relative deviation between a signal
// price and the market mid that still passes verification.
const DefaultPriceTolerance = 0.02

// Exchange is the order-side view of the exchange REST API.
type Exchange interface {
	FindPerpetual(ctx context.Context, symbol string) (domain.Product, error)
	PlaceLimitOrder(ctx context.Context, productID int, side domain.Side, size, limitPrice float64) (domain.PlacedOrder, error)
}

// OrderConfig holds the static order settings.
type OrderConfig struct {
	Tolerance  float64
	ProductIDs map[string]int
	RateLimit  int
	RateWindow time.Duration
	Timeout    time.Duration
}

// OrderService verifies prices against the live book and places limit
// orders. Every placement attempt yields an OrderResult; nothing is returned
// as an error.
type OrderService struct {
	exchange Exchange
	prices   *PriceService
	limiter  domain.RateLimiter
	settings SettingsProvider
	cfg      OrderConfig
	effects  sideEffects
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	products map[string]int
}

// NewOrderService creates an OrderService. limiter may be nil.
func NewOrderService(
	exchange Exchange,
	prices *PriceService,
	limiter domain.RateLimiter,
	settings SettingsProvider,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultPriceTolerance
	}
	products := make(map[string]int, len(cfg.ProductIDs))
	for sym, id := range cfg.ProductIDs {
		products[strings.ToUpper(sym)] = id
	}
	logger = logger.With(slog.String("component", "order_service"))
	return &OrderService{
		exchange: exchange,
		prices:   prices,
		limiter:  limiter,
		settings: settings,
		cfg:      cfg,
		effects:  sideEffects{bus: bus, audit: audit, logger: logger},
		now:      time.Now,
		logger:   logger,
		products: products,
	}
}

// Tolerance returns the configured verification tolerance.
func (s *OrderService) Tolerance() float64 {
	return s.cfg.Tolerance
}

// VerifyPrice compares expected with the live mid of symbol. It fails closed:
// an unreachable or one-sided book is an invalid check. A non-positive
// tolerance selects the configured one.
func (s *OrderService) VerifyPrice(ctx context.Context, symbol string, expected, tolerance float64) domain.PriceCheck {
	if tolerance <= 0 {
		tolerance = s.cfg.Tolerance
	}
	check := domain.PriceCheck{Symbol: symbol, ExpectedPrice: expected, Tolerance: tolerance}

	if expected <= 0 {
		check.Message = fmt.Sprintf("price check failed: expected price %.8g is not positive", expected)
		return check
	}

	q, err := s.prices.Quote(ctx, symbol)
	if err != nil {
		check.Message = fmt.Sprintf("price check failed: no usable order book for %s: %v", symbol, err)
		s.logger.WarnContext(ctx, "price verification failed closed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return check
	}

	mid := q.Mid()
	check.BestBid = q.BestBid
	check.BestAsk = q.BestAsk
	check.MarketMid = mid
	check.Deviation = math.Abs(expected-mid) / mid
	metrics.PriceDeviation.Observe(check.Deviation)

	if check.Deviation <= tolerance {
		check.Valid = true
		check.Message = fmt.Sprintf("price ok: signal %.8g, market %.8g, deviation %.2f%%",
			expected, mid, check.Deviation*100)
		return check
	}

	check.Message = fmt.Sprintf("price deviation %.2f%% exceeds tolerance %.2f%%: signal %.8g, market %.8g",
		check.Deviation*100, tolerance*100, expected, mid)
	return check
}

// PlaceOrder verifies the request price and places a limit order at it.
// Blocked and dry-run results never reach the exchange.
func (s *OrderService) PlaceOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult {
	res := s.placeOrder(ctx, req)
	metrics.OrdersSubmitted.WithLabelValues(string(res.Status)).Inc()

	attrs := []any{
		slog.String("symbol", res.Symbol),
		slog.String("side", string(res.Side)),
		slog.Float64("price", res.Price),
		slog.Float64("size", res.Size),
		slog.String("status", string(res.Status)),
	}
	switch res.Status {
	case domain.OrderStatusPlaced:
		s.logger.InfoContext(ctx, "order placed", append(attrs, slog.String("order_id", res.OrderID))...)
	case domain.OrderStatusDryRun:
		s.logger.InfoContext(ctx, "order not sent: trading disabled", attrs...)
	default:
		s.logger.WarnContext(ctx, "order not placed", append(attrs, slog.String("message", res.Message))...)
	}

	s.effects.publish(ctx, ChannelOrders, map[string]any{
		"event":    "order_" + string(res.Status),
		"symbol":   res.Symbol,
		"side":     string(res.Side),
		"price":    res.Price,
		"size":     res.Size,
		"order_id": res.OrderID,
		"message":  res.Message,
	})
	s.effects.record(ctx, "order_"+string(res.Status), map[string]any{
		"symbol":         res.Symbol,
		"side":           string(res.Side),
		"price":          res.Price,
		"size":           res.Size,
		"product_id":     res.ProductID,
		"order_id":       res.OrderID,
		"expected_price": res.ExpectedPrice,
		"market_price":   res.MarketPrice,
		"message":        res.Message,
		"error":          res.Error,
	})
	return res
}

func (s *OrderService) placeOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult {
	res := domain.OrderResult{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Size:          req.Size,
		ExpectedPrice: req.Price,
		SubmittedAt:   s.now().UTC(),
	}

	if !req.Side.Valid() || req.Size <= 0 || req.Symbol == "" {
		res.Status = domain.OrderStatusFailed
		res.Message = "invalid order request"
		res.Error = domain.ErrInvalidOrder.Error()
		return res
	}

	check := s.VerifyPrice(ctx, req.Symbol, req.Price, s.cfg.Tolerance)
	res.MarketPrice = check.MarketMid
	if !check.Valid {
		res.Status = domain.OrderStatusBlocked
		res.Message = check.Message
		return res
	}

	if !s.settings.Current().TradingEnabled {
		res.Status = domain.OrderStatusDryRun
		res.Message = "trading disabled: order not sent"
		return res
	}

	productID, err := s.ResolveProduct(ctx, req.Symbol)
	if err != nil {
		res.Status = domain.OrderStatusFailed
		res.Message = fmt.Sprintf("cannot resolve product for %s", req.Symbol)
		res.Error = err.Error()
		return res
	}
	res.ProductID = productID

	if s.limiter != nil && s.cfg.RateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders", s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "order rate limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			res.Status = domain.OrderStatusFailed
			res.Message = "order rate limit reached"
			res.Error = domain.ErrRateLimited.Error()
			return res
		}
	}

	octx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	placed, err := s.exchange.PlaceLimitOrder(octx, productID, req.Side, req.Size, req.Price)
	if err != nil {
		res.Status = domain.OrderStatusFailed
		res.Message = "exchange rejected order"
		res.Error = err.Error()
		return res
	}

	res.Status = domain.OrderStatusPlaced
	res.OrderID = placed.ID
	res.State = placed.State
	res.Message = "order placed"
	return res
}

// ResolveProduct maps symbol to an exchange product id: the static map
// first, then a perpetual found through the product listing. Resolved ids
// are cached for the life of the service.
func (s *OrderService) ResolveProduct(ctx context.Context, symbol string) (int, error) {
	key := strings.ToUpper(symbol)

	s.mu.RLock()
	id, ok := s.products[key]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	product, err := s.exchange.FindPerpetual(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("order_service: resolve %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.products[key] = product.ID
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "resolved product",
		slog.String("symbol", key),
		slog.Int("product_id", product.ID),
	)
	return product.ID, nil
}
