package config

import "github.com/alanyoungcy/signalbot/internal/domain"

// RiskSettings converts the [risk] and [trading] sections into the runtime
// risk settings. Percent options are stored as fractions.
func (c *Config) RiskSettings() domain.RiskSettings {
	return domain.RiskSettings{
		StopLossPct:       c.Risk.StopLossPercent / 100,
		TakeProfitPct:     c.Risk.TakeProfitPercent / 100,
		TrailingEnabled:   c.Risk.TrailingStopEnabled,
		TrailingType:      domain.TrailingType(c.Risk.TrailingStopType),
		TrailingPct:       c.Risk.TrailingStopPercent / 100,
		TrailingAmount:    c.Risk.TrailingStopAmount,
		EmergencySpikePct: c.Risk.EmergencySpikePercent / 100,
		MaxPositionSize:   c.Risk.MaxPositionSize,
		MaxOpenPositions:  c.Risk.MaxOpenPositions,
		MaxDailyTrades:    c.Risk.MaxDailyTrades,
		MaxDailyLoss:      c.Risk.MaxDailyLoss,
		PanicMode:         c.Risk.PanicMode,
		TradingEnabled:    c.Trading.TradingEnabled,
	}
}
