package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

var testDefaults = domain.RiskSettings{
	StopLossPct:      0.02,
	TakeProfitPct:    0.04,
	TrailingType:     domain.TrailingPercent,
	MaxOpenPositions: 5,
}

func TestSettingsRefresh_AppliesOverrides(t *testing.T) {
	store := newMemSettingsStore()
	store.vals["risk_stop_loss_percent"] = "3"
	store.vals["risk_max_open_positions"] = "many"
	store.vals["risk_trailing_stop_type"] = "amount"
	store.vals["risk_unknown"] = "1"
	s := NewSettingsService(store, testDefaults, nil, nil, nil, discardLogger())

	require.NoError(t, s.Refresh(context.Background()))

	cur := s.Current()
	assert.InDelta(t, 0.03, cur.StopLossPct, 1e-12)
	assert.Equal(t, 5, cur.MaxOpenPositions)
	assert.Equal(t, domain.TrailingAmount, cur.TrailingType)
	assert.InDelta(t, 0.04, cur.TakeProfitPct, 1e-12)
}

func TestSettingsRefresh_DroppedOverrideRevertsToDefault(t *testing.T) {
	store := newMemSettingsStore()
	store.vals["risk_stop_loss_percent"] = "3"
	s := NewSettingsService(store, testDefaults, nil, nil, nil, discardLogger())
	require.NoError(t, s.Refresh(context.Background()))

	delete(store.vals, "risk_stop_loss_percent")
	require.NoError(t, s.Refresh(context.Background()))
	assert.InDelta(t, 0.02, s.Current().StopLossPct, 1e-12)
}

func TestSettingsUpdate(t *testing.T) {
	store := newMemSettingsStore()
	s := NewSettingsService(store, testDefaults, nil, nil, nil, discardLogger())
	ctx := context.Background()

	_, err := s.Update(ctx, map[string]string{
		"take_profit_percent": "5",
		"max_daily_trades":    "-1",
		"nope":                "1",
	})
	require.ErrorIs(t, err, ErrInvalidSetting)
	assert.Contains(t, err.Error(), "max_daily_trades")
	assert.Contains(t, err.Error(), "nope: unknown setting")
	assert.Empty(t, store.vals)
	assert.InDelta(t, 0.04, s.Current().TakeProfitPct, 1e-12)

	next, err := s.Update(ctx, map[string]string{"take_profit_percent": " 5 ", "trading_enabled": "true"})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, next.TakeProfitPct, 1e-12)
	assert.True(t, s.Current().TradingEnabled)
	assert.Equal(t, "5", store.vals["risk_take_profit_percent"])
	assert.Equal(t, "true", store.vals["risk_trading_enabled"])
}

func TestSettingsUpdate_RejectsBadPercent(t *testing.T) {
	s := NewSettingsService(nil, testDefaults, nil, nil, nil, discardLogger())

	for _, v := range []string{"100", "-1", "abc"} {
		_, err := s.Update(context.Background(), map[string]string{"stop_loss_percent": v})
		assert.ErrorIs(t, err, ErrInvalidSetting, v)
	}
}

func TestSettingsSnapshot_WholePercents(t *testing.T) {
	s := NewSettingsService(nil, testDefaults, nil, nil, nil, discardLogger())

	snap := s.Snapshot()
	assert.InDelta(t, 2, snap["stop_loss_percent"].(float64), 1e-9)
	assert.InDelta(t, 4, snap["take_profit_percent"].(float64), 1e-9)
	assert.Equal(t, "percent", snap["trailing_stop_type"])
	assert.Equal(t, 5, snap["max_open_positions"])
	assert.Equal(t, false, snap["panic_mode"])
	assert.Len(t, snap, len(settingDefs))
}

func TestSetPanicMode(t *testing.T) {
	bus := newMemBus()
	notifier := &recordingNotifier{}
	s := NewSettingsService(newMemSettingsStore(), testDefaults, bus, nil, notifier, discardLogger())
	ctx := context.Background()

	cur, err := s.SetPanicMode(ctx, true)
	require.NoError(t, err)
	assert.True(t, cur.PanicMode)
	assert.True(t, s.Current().PanicMode)

	_, err = s.SetPanicMode(ctx, false)
	require.NoError(t, err)
	assert.False(t, s.Current().PanicMode)

	assert.Equal(t, []string{"panic_mode", "panic_mode"}, notifier.got())
	assert.Equal(t, 2, bus.count(ChannelPositions))
}
