package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// OrderTypeMarket is the order kind recorded on positions opened from signals.
const OrderTypeMarket = "MARKET"

// Position is one open-or-closed directional exposure to a symbol. The
// engine keeps at most one OPEN position per symbol.
type Position struct {
	ID                string
	Symbol            string
	Side              Side
	Quantity          float64
	OpenPrice         float64
	OpenedAt          time.Time
	Status            PositionStatus
	ClosePrice        *float64
	ClosedAt          *time.Time
	ProfitLoss        *float64
	StopLoss          *float64
	TakeProfit        *float64
	TotalCost         float64
	StopLossTriggered bool
	ClosedByUser      bool
	ExitKind          ExitKind
	OrderType         string
	SignalID          string
}

// IsOpen reports whether the position is still OPEN.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// PnLAt returns the profit or loss of the position if it were closed at price.
// BUY: (price-open)*qty. SELL: (open-price)*qty.
func (p Position) PnLAt(price float64) float64 {
	if p.Side == SideSell {
		return (p.OpenPrice - price) * p.Quantity
	}
	return (price - p.OpenPrice) * p.Quantity
}

// PnLPctAt returns the signed fractional move in the position's favour at
// price (0.01 = 1%).
func (p Position) PnLPctAt(price float64) float64 {
	if p.OpenPrice == 0 {
		return 0
	}
	if p.Side == SideSell {
		return (p.OpenPrice - price) / p.OpenPrice
	}
	return (price - p.OpenPrice) / p.OpenPrice
}

// CloseAt marks the position closed at price and time t and fills in the
// realized P&L. exit may be empty for signal-driven closes.
func (p *Position) CloseAt(price float64, t time.Time, exit ExitKind) {
	pnl := p.PnLAt(price)
	closePrice := price
	closedAt := t
	p.Status = PositionStatusClosed
	p.ClosePrice = &closePrice
	p.ClosedAt = &closedAt
	p.ProfitLoss = &pnl
	p.ExitKind = exit
	if exit == ExitStopLoss {
		p.StopLossTriggered = true
	}
}

// PositionView is an OPEN position annotated with a live price.
type PositionView struct {
	Position
	CurrentPrice  float64
	UnrealizedPnL float64
	PnLPct        float64
	PriceAt       time.Time
	PriceStale    bool
}
