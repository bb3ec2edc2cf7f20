package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/metrics"
)

// RiskGuard decides whether an OPEN position must be closed at a price and
// performs the close. Rules are checked in order: stop loss, take profit,
// trailing stop, emergency spike. The first rule that fires wins.
type RiskGuard struct {
	ledger    domain.PositionLedger
	orders    OrderPlacer
	settings  SettingsProvider
	orderSize float64
	effects   sideEffects
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	extremes map[string]float64 // position id -> best favourable price seen
}

// NewRiskGuard creates a RiskGuard.
func NewRiskGuard(
	ledger domain.PositionLedger,
	orders OrderPlacer,
	settings SettingsProvider,
	orderSize float64,
	bus domain.EventBus,
	audit domain.AuditStore,
	notifier Notifier,
	logger *slog.Logger,
) *RiskGuard {
	logger = logger.With(slog.String("component", "risk_guard"))
	return &RiskGuard{
		ledger:    ledger,
		orders:    orders,
		settings:  settings,
		orderSize: orderSize,
		effects:   sideEffects{bus: bus, audit: audit, notifier: notifier, logger: logger},
		now:       time.Now,
		logger:    logger,
		extremes:  make(map[string]float64),
	}
}

// Evaluate checks pos against the current risk settings at price. Explicit
// stop and target prices on the position take precedence over the percent
// settings. Evaluate updates the trailing extreme of pos as a side effect.
func (g *RiskGuard) Evaluate(pos domain.Position, price float64) domain.RiskEvaluation {
	s := g.settings.Current()
	pnlPct := pos.PnLPctAt(price)
	eval := domain.RiskEvaluation{Price: price, PnLPct: pnlPct}
	long := pos.Side == domain.SideBuy

	if pos.StopLoss != nil {
		sl := *pos.StopLoss
		if (long && price <= sl) || (!long && price >= sl) {
			return closeEval(eval, domain.ExitStopLoss,
				fmt.Sprintf("stop loss hit: price %.8g crossed stop %.8g", price, sl))
		}
	} else if s.StopLossPct > 0 && pnlPct <= -s.StopLossPct {
		return closeEval(eval, domain.ExitStopLoss,
			fmt.Sprintf("stop loss hit: loss %.2f%% reached limit %.2f%%", -pnlPct*100, s.StopLossPct*100))
	}

	if pos.TakeProfit != nil {
		tp := *pos.TakeProfit
		if (long && price >= tp) || (!long && price <= tp) {
			return closeEval(eval, domain.ExitTakeProfit,
				fmt.Sprintf("take profit hit: price %.8g crossed target %.8g", price, tp))
		}
	} else if s.TakeProfitPct > 0 && pnlPct >= s.TakeProfitPct {
		return closeEval(eval, domain.ExitTakeProfit,
			fmt.Sprintf("take profit hit: gain %.2f%% reached target %.2f%%", pnlPct*100, s.TakeProfitPct*100))
	}

	if s.TrailingEnabled && pnlPct > 0 {
		extreme := g.trackExtreme(pos, price)
		var retrace float64
		if long {
			retrace = extreme - price
		} else {
			retrace = price - extreme
		}

		switch s.TrailingType {
		case domain.TrailingAmount:
			if s.TrailingAmount > 0 && retrace >= s.TrailingAmount {
				return closeEval(eval, domain.ExitTrailingStop,
					fmt.Sprintf("trailing stop hit: retraced %.8g from %.8g (limit %.8g)", retrace, extreme, s.TrailingAmount))
			}
		default:
			if s.TrailingPct > 0 && retrace/extreme >= s.TrailingPct {
				return closeEval(eval, domain.ExitTrailingStop,
					fmt.Sprintf("trailing stop hit: retraced %.2f%% from %.8g (limit %.2f%%)", retrace/extreme*100, extreme, s.TrailingPct*100))
			}
		}
	}

	if s.EmergencySpikePct > 0 && math.Abs(pnlPct) >= s.EmergencySpikePct {
		return closeEval(eval, domain.ExitEmergencySpike,
			fmt.Sprintf("emergency spike: price moved %.2f%% from entry (limit %.2f%%)", math.Abs(pnlPct)*100, s.EmergencySpikePct*100))
	}

	return eval
}

func closeEval(eval domain.RiskEvaluation, exit domain.ExitKind, reason string) domain.RiskEvaluation {
	eval.Close = true
	eval.Exit = exit
	eval.Reason = reason
	return eval
}

// trackExtreme records price as the position's best favourable price when it
// improves on it and returns the extreme.
func (g *RiskGuard) trackExtreme(pos domain.Position, price float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.extremes[pos.ID]
	if !ok || (pos.Side == domain.SideBuy && price > cur) || (pos.Side == domain.SideSell && price < cur) {
		g.extremes[pos.ID] = price
		return price
	}
	return cur
}

// Extreme returns the tracked trailing extreme for a position.
func (g *RiskGuard) Extreme(id string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.extremes[id]
	return v, ok
}

// Forget drops the trailing state of a position.
func (g *RiskGuard) Forget(id string) {
	g.mu.Lock()
	delete(g.extremes, id)
	g.mu.Unlock()
}

// Retain drops the trailing state of every position not in ids.
func (g *RiskGuard) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	g.mu.Lock()
	for id := range g.extremes {
		if _, ok := keep[id]; !ok {
			delete(g.extremes, id)
		}
	}
	g.mu.Unlock()
}

// Close closes pos at price for the reason in eval and places the opposite
// closing order. The row is re-read under the symbol lock; if it is no
// longer OPEN nothing happens and Close returns nil. A manual exit marks the
// position as closed by the user.
func (g *RiskGuard) Close(ctx context.Context, pos domain.Position, price float64, eval domain.RiskEvaluation) (*domain.ExitResult, error) {
	var closed *domain.Position

	err := g.ledger.WithSymbolLock(ctx, pos.Symbol, func(tx domain.PositionTx) error {
		open, err := tx.LockOpen(ctx, pos.Symbol)
		if err != nil {
			return err
		}
		for _, p := range open {
			if p.ID != pos.ID {
				continue
			}
			p.CloseAt(price, g.now().UTC(), eval.Exit)
			if eval.Exit == domain.ExitManual {
				p.ClosedByUser = true
			}
			if err := tx.Close(ctx, p); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			}
			closed = &p
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("risk_guard: close %s: %w", pos.ID, err)
	}
	g.Forget(pos.ID)

	if closed == nil {
		g.logger.DebugContext(ctx, "position already closed",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
		)
		return nil, nil
	}

	result := &domain.ExitResult{Position: *closed, Evaluation: eval}
	metrics.RiskExits.WithLabelValues(string(eval.Exit)).Inc()

	g.logger.InfoContext(ctx, "position closed by risk rule",
		slog.String("position_id", closed.ID),
		slog.String("symbol", closed.Symbol),
		slog.String("exit", string(eval.Exit)),
		slog.Float64("price", price),
		slog.Float64("profit_loss", *closed.ProfitLoss),
		slog.String("reason", eval.Reason),
	)
	g.effects.publish(ctx, ChannelPositions, positionEvent("position_closed", *closed))
	g.effects.record(ctx, "position_closed", map[string]any{
		"position_id": closed.ID,
		"symbol":      closed.Symbol,
		"side":        string(closed.Side),
		"close_price": price,
		"profit_loss": *closed.ProfitLoss,
		"exit_kind":   string(eval.Exit),
		"reason":      eval.Reason,
	})

	order := g.orders.PlaceOrder(ctx, domain.OrderRequest{
		Symbol: closed.Symbol,
		Side:   closed.Side.Opposite(),
		Price:  price,
		Size:   g.orderSize,
	})
	result.Order = &order

	g.effects.notify(ctx, "risk_exit",
		fmt.Sprintf("%s closed: %s", closed.Symbol, eval.Exit),
		fmt.Sprintf("%s\nP&L: %.2f\nOrder: %s %s", eval.Reason, *closed.ProfitLoss, order.Status, order.Message))
	return result, nil
}
