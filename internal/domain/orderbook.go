package domain

import "time"

// Quote is the top of book for a symbol.
type Quote struct {
	Symbol  string
	BestBid float64
	BestAsk float64
	Time    time.Time
}

// Mid returns the midpoint of best bid and best ask.
func (q Quote) Mid() float64 {
	return (q.BestBid + q.BestAsk) / 2
}

// Spread returns best ask minus best bid.
func (q Quote) Spread() float64 {
	return q.BestAsk - q.BestBid
}

// Valid reports whether both sides are present and not crossed.
func (q Quote) Valid() bool {
	return q.BestBid > 0 && q.BestAsk > 0 && q.BestAsk >= q.BestBid
}

// PriceCheck is the result of comparing an expected price with the market.
type PriceCheck struct {
	Symbol        string
	Valid         bool
	ExpectedPrice float64
	MarketMid     float64
	BestBid       float64
	BestAsk       float64
	Deviation     float64
	Tolerance     float64
	Message       string
}
