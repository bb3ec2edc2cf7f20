package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

func openPosition(id, symbol string, side domain.Side, price float64) domain.Position {
	return domain.Position{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Quantity:  100,
		OpenPrice: price,
		OpenedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:    domain.PositionStatusOpen,
		TotalCost: price * 100,
	}
}

func newTestGuard(settings domain.RiskSettings, ledger *memLedger, orders *recordingOrders) *RiskGuard {
	return NewRiskGuard(ledger, orders, newStaticSettings(settings), 1, newMemBus(), nil, &recordingNotifier{}, discardLogger())
}

func TestEvaluate_StopLoss(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{StopLossPct: 0.01}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	assert.False(t, g.Evaluate(pos, 99.5).Close)

	eval := g.Evaluate(pos, 99)
	assert.True(t, eval.Close)
	assert.Equal(t, domain.ExitStopLoss, eval.Exit)

	short := openPosition("s", "BTCUSD", domain.SideSell, 100)
	assert.Equal(t, domain.ExitStopLoss, g.Evaluate(short, 101).Exit)
	assert.False(t, g.Evaluate(short, 100.5).Close)
}

func TestEvaluate_ExplicitStopBeatsPercent(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{StopLossPct: 0.01, TakeProfitPct: 0.02}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	pos.StopLoss = ptr(95.0)
	pos.TakeProfit = ptr(120.0)

	assert.False(t, g.Evaluate(pos, 98).Close, "percent stop must not apply when an explicit stop exists")
	assert.Equal(t, domain.ExitStopLoss, g.Evaluate(pos, 95).Exit)

	assert.False(t, g.Evaluate(pos, 110).Close, "percent target must not apply when an explicit target exists")
	assert.Equal(t, domain.ExitTakeProfit, g.Evaluate(pos, 120).Exit)
}

func TestEvaluate_TakeProfitPercent(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{TakeProfitPct: 0.02}, newMemLedger(), &recordingOrders{})

	short := openPosition("s", "ETHUSD", domain.SideSell, 100)
	assert.False(t, g.Evaluate(short, 99).Close)
	eval := g.Evaluate(short, 98)
	assert.True(t, eval.Close)
	assert.Equal(t, domain.ExitTakeProfit, eval.Exit)
}

func TestEvaluate_TrailingPercent(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{
		TrailingEnabled: true,
		TrailingType:    domain.TrailingPercent,
		TrailingPct:     0.01,
	}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	assert.False(t, g.Evaluate(pos, 105).Close)
	assert.False(t, g.Evaluate(pos, 110).Close)

	peak, ok := g.Extreme("p")
	require.True(t, ok)
	assert.Equal(t, 110.0, peak)

	assert.False(t, g.Evaluate(pos, 109).Close)
	eval := g.Evaluate(pos, 108.8)
	assert.True(t, eval.Close)
	assert.Equal(t, domain.ExitTrailingStop, eval.Exit)
}

func TestEvaluate_TrailingOnlyInProfit(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{
		TrailingEnabled: true,
		TrailingType:    domain.TrailingPercent,
		TrailingPct:     0.01,
	}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	assert.False(t, g.Evaluate(pos, 97).Close)
	_, ok := g.Extreme("p")
	assert.False(t, ok)
}

func TestEvaluate_TrailingAmountShort(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{
		TrailingEnabled: true,
		TrailingType:    domain.TrailingAmount,
		TrailingAmount:  5,
	}, newMemLedger(), &recordingOrders{})

	short := openPosition("s", "BTCUSD", domain.SideSell, 100)
	assert.False(t, g.Evaluate(short, 90).Close)
	assert.False(t, g.Evaluate(short, 94).Close)
	eval := g.Evaluate(short, 95)
	assert.True(t, eval.Close)
	assert.Equal(t, domain.ExitTrailingStop, eval.Exit)
}

func TestEvaluate_EmergencySpike(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{EmergencySpikePct: 0.10}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	assert.False(t, g.Evaluate(pos, 91).Close)
	assert.Equal(t, domain.ExitEmergencySpike, g.Evaluate(pos, 90).Exit)
	assert.Equal(t, domain.ExitEmergencySpike, g.Evaluate(pos, 110).Exit)
}

func TestEvaluate_RuleOrder(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{StopLossPct: 0.01, EmergencySpikePct: 0.05}, newMemLedger(), &recordingOrders{})

	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	assert.Equal(t, domain.ExitStopLoss, g.Evaluate(pos, 80).Exit)
}

func TestForgetAndRetain(t *testing.T) {
	g := newTestGuard(domain.RiskSettings{TrailingEnabled: true, TrailingPct: 0.5}, newMemLedger(), &recordingOrders{})

	for _, id := range []string{"a", "b", "c"} {
		g.Evaluate(openPosition(id, "BTCUSD", domain.SideBuy, 100), 101)
	}
	g.Forget("a")
	_, ok := g.Extreme("a")
	assert.False(t, ok)

	g.Retain([]string{"c"})
	_, ok = g.Extreme("b")
	assert.False(t, ok)
	_, ok = g.Extreme("c")
	assert.True(t, ok)
}

func TestRiskGuardClose(t *testing.T) {
	pos := openPosition("p", "BTCUSD", domain.SideBuy, 100)
	ledger := newMemLedger(pos)
	orders := &recordingOrders{}
	g := newTestGuard(domain.RiskSettings{StopLossPct: 0.01}, ledger, orders)
	ctx := context.Background()

	eval := g.Evaluate(pos, 98)
	require.True(t, eval.Close)

	res, err := g.Close(ctx, pos, 98, eval)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.PositionStatusClosed, res.Position.Status)
	assert.True(t, res.Position.StopLossTriggered)
	assert.Equal(t, domain.ExitStopLoss, res.Position.ExitKind)
	assert.Equal(t, -200.0, *res.Position.ProfitLoss)
	require.NotNil(t, res.Order)

	reqs := orders.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.SideSell, reqs[0].Side)
	assert.Equal(t, 98.0, reqs[0].Price)

	stored, err := ledger.GetByID(ctx, "p")
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())

	res, err = g.Close(ctx, pos, 97, eval)
	require.NoError(t, err)
	assert.Nil(t, res, "second close must be a no-op")
	assert.Len(t, orders.requests(), 1)
}

func TestRiskGuardClose_Manual(t *testing.T) {
	pos := openPosition("p", "ETHUSD", domain.SideSell, 100)
	ledger := newMemLedger(pos)
	orders := &recordingOrders{}
	g := newTestGuard(domain.RiskSettings{}, ledger, orders)

	res, err := g.Close(context.Background(), pos, 90, domain.RiskEvaluation{Close: true, Exit: domain.ExitManual})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Position.ClosedByUser)
	assert.False(t, res.Position.StopLossTriggered)
	assert.Equal(t, 1000.0, *res.Position.ProfitLoss)
	assert.Equal(t, domain.SideBuy, orders.requests()[0].Side)
}
