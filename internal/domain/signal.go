package domain

import (
	"strings"
	"time"
)

// Side is the direction of a signal, position or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is exactly BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side. Invalid sides map to themselves.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// Lower returns the lowercase wire form used by the exchange ("buy", "sell").
func (s Side) Lower() string {
	return strings.ToLower(string(s))
}

// Signal is a normalized trading alert. It is transient; the audit copy is a
// SignalRecord.
type Signal struct {
	Source     string
	Symbol     string
	Action     Side
	Price      float64
	RawText    string
	Size       *float64
	StopLoss   *float64
	TakeProfit *float64
	EventKey   string
	ReceivedAt time.Time
}

// Actionable reports whether the signal carries everything the position
// manager needs. Anything else is a no-op skip.
func (s Signal) Actionable() bool {
	return s.Action.Valid() && s.Symbol != "" && s.Price > 0
}

// Missing lists the fields that keep the signal from being actionable.
func (s Signal) Missing() []string {
	var out []string
	if !s.Action.Valid() {
		out = append(out, "action")
	}
	if s.Symbol == "" {
		out = append(out, "symbol")
	}
	if s.Price <= 0 {
		out = append(out, "price")
	}
	return out
}

// SignalRecord is the write-once audit row for a received signal and the
// outcome it produced.
type SignalRecord struct {
	ID         string
	EventKey   string
	Source     string
	Symbol     string
	Action     string
	Price      float64
	RawText    string
	Outcome    Outcome
	PositionID string
	Message    string
	CreatedAt  time.Time
}
