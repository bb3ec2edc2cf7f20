package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// PositionConfig holds the fixed sizes used when opening positions.
type PositionConfig struct {
	// Quantity is recorded on the ledger and drives P&L.
	Quantity float64
	// OrderSize is the contract count sent to the exchange.
	OrderSize float64
}

// HandleOption adjusts a single Handle call.
type HandleOption func(*handleOpts)

type handleOpts struct {
	stopLoss   *float64
	takeProfit *float64
	signalID   string
}

// WithLevels sets explicit stop and target prices on the position opened by
// the call. Nil values fall back to the percent settings.
func WithLevels(stopLoss, takeProfit *float64) HandleOption {
	return func(o *handleOpts) {
		o.stopLoss = stopLoss
		o.takeProfit = takeProfit
	}
}

// WithSignalID links the opened position to the signal that caused it.
func WithSignalID(id string) HandleOption {
	return func(o *handleOpts) { o.signalID = id }
}

// TrailingState drops per-position trailing state once a position closes.
type TrailingState interface {
	Forget(id string)
}

// PositionManager is the per-symbol state machine NONE, OPEN_BUY, OPEN_SELL.
// Every decision runs under the ledger's symbol lock so concurrent signals
// for one symbol are linearized.
type PositionManager struct {
	ledger   domain.PositionLedger
	orders   OrderPlacer
	settings SettingsProvider
	cfg      PositionConfig
	effects  sideEffects
	trailing TrailingState
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// NewPositionManager creates a PositionManager.
func NewPositionManager(
	ledger domain.PositionLedger,
	orders OrderPlacer,
	settings SettingsProvider,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg PositionConfig,
	logger *slog.Logger,
) *PositionManager {
	logger = logger.With(slog.String("component", "position_manager"))
	return &PositionManager{
		ledger:   ledger,
		orders:   orders,
		settings: settings,
		cfg:      cfg,
		effects:  sideEffects{bus: bus, audit: audit, logger: logger},
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// SetTrailing registers the trailing state to clear for positions closed by a
// flip.
func (m *PositionManager) SetTrailing(t TrailingState) {
	m.trailing = t
}

// Handle applies a BUY or SELL at price to symbol.
//
//   - no OPEN position: open one (opened)
//   - OPEN on the same side: nothing changes (ignored)
//   - OPEN on the other side: close it at price, open the new side (immediate_flip)
//   - more than one OPEN row: close them all at price, open the new side (immediate_flip)
//   - panic mode: nothing changes (refused)
//
// After the ledger commits an open, an order for the new side is placed. Its
// result is attached to the decision and never undoes the ledger change.
// Apart from rejecting a malformed request, the only error is a failed
// ledger transaction.
func (m *PositionManager) Handle(ctx context.Context, symbol string, side domain.Side, price float64, opts ...HandleOption) (domain.Decision, error) {
	var o handleOpts
	for _, fn := range opts {
		fn(&o)
	}

	d := domain.Decision{Symbol: symbol, Side: side, Price: price}
	if !side.Valid() || symbol == "" || price <= 0 {
		return d, fmt.Errorf("position_manager: handle %s %s @ %v: %w", symbol, side, price, domain.ErrInvalidSignal)
	}

	settings := m.settings.Current()
	if settings.PanicMode {
		d.Kind = domain.DecisionRefused
		d.Message = "panic mode active: new positions are refused"
		m.logger.WarnContext(ctx, "signal refused in panic mode",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
		)
		return d, nil
	}

	err := m.ledger.WithSymbolLock(ctx, symbol, func(tx domain.PositionTx) error {
		open, err := tx.LockOpen(ctx, symbol)
		if err != nil {
			return err
		}

		switch {
		case len(open) == 1 && open[0].Side == side:
			current := open[0]
			d.Kind = domain.DecisionIgnored
			d.Current = &current
			d.Message = fmt.Sprintf("%s position already open for %s since %s",
				side, symbol, current.OpenedAt.Format(time.RFC3339))
			return nil

		case len(open) > 1:
			m.logger.WarnContext(ctx, "multiple open positions found, closing all",
				slog.String("symbol", symbol),
				slog.Int("count", len(open)),
			)
		}

		closedAt := m.now().UTC()
		for _, p := range open {
			p.CloseAt(price, closedAt, domain.ExitSignalFlip)
			if err := tx.Close(ctx, p); err != nil {
				return fmt.Errorf("close %s: %w", p.ID, err)
			}
			d.Closed = append(d.Closed, p)
		}

		pos := m.newPosition(symbol, side, price, settings, o)
		if err := tx.Insert(ctx, pos); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		d.Opened = &pos

		if len(open) == 0 {
			d.Kind = domain.DecisionOpened
			d.Message = fmt.Sprintf("opened %s %s @ %.8g", side, symbol, price)
		} else {
			d.Kind = domain.DecisionImmediateFlip
			d.Message = fmt.Sprintf("closed %d position(s) and opened %s %s @ %.8g", len(open), side, symbol, price)
		}
		return nil
	})
	if err != nil {
		return domain.Decision{}, fmt.Errorf("position_manager: handle %s: %w", symbol, err)
	}

	m.afterCommit(ctx, &d)
	return d, nil
}

func (m *PositionManager) newPosition(symbol string, side domain.Side, price float64, settings domain.RiskSettings, o handleOpts) domain.Position {
	pos := domain.Position{
		ID:        m.newID(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  m.cfg.Quantity,
		OpenPrice: price,
		OpenedAt:  m.now().UTC(),
		Status:    domain.PositionStatusOpen,
		TotalCost: price * m.cfg.Quantity,
		OrderType: domain.OrderTypeMarket,
		SignalID:  o.signalID,
	}

	pos.StopLoss = o.stopLoss
	if pos.StopLoss == nil && settings.StopLossPct > 0 {
		sl := price * (1 - settings.StopLossPct)
		if side == domain.SideSell {
			sl = price * (1 + settings.StopLossPct)
		}
		pos.StopLoss = &sl
	}

	pos.TakeProfit = o.takeProfit
	if pos.TakeProfit == nil && settings.TakeProfitPct > 0 {
		tp := price * (1 + settings.TakeProfitPct)
		if side == domain.SideSell {
			tp = price * (1 - settings.TakeProfitPct)
		}
		pos.TakeProfit = &tp
	}
	return pos
}

func (m *PositionManager) afterCommit(ctx context.Context, d *domain.Decision) {
	for _, p := range d.Closed {
		if m.trailing != nil {
			m.trailing.Forget(p.ID)
		}
		m.logger.InfoContext(ctx, "position closed by signal",
			slog.String("position_id", p.ID),
			slog.String("symbol", p.Symbol),
			slog.Float64("profit_loss", *p.ProfitLoss),
		)
		m.effects.publish(ctx, ChannelPositions, positionEvent("position_closed", p))
		m.effects.record(ctx, "position_closed", map[string]any{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"side":        string(p.Side),
			"close_price": *p.ClosePrice,
			"profit_loss": *p.ProfitLoss,
			"exit_kind":   string(p.ExitKind),
		})
	}

	if d.Opened == nil {
		return
	}
	p := *d.Opened
	m.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("side", string(p.Side)),
		slog.Float64("price", p.OpenPrice),
		slog.String("decision", string(d.Kind)),
	)
	m.effects.publish(ctx, ChannelPositions, positionEvent("position_opened", p))
	m.effects.record(ctx, "position_opened", map[string]any{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"side":        string(p.Side),
		"open_price":  p.OpenPrice,
		"quantity":    p.Quantity,
		"decision":    string(d.Kind),
	})

	order := m.orders.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: p.Symbol,
		Side:   p.Side,
		Price:  p.OpenPrice,
		Size:   m.cfg.OrderSize,
	})
	d.Order = &order
}
