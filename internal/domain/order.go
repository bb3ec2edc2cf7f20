package domain

import (
	"strings"
	"time"
)

// OrderStatus is the outcome class of an order placement attempt.
type OrderStatus string

const (
	OrderStatusPlaced  OrderStatus = "placed"
	OrderStatusBlocked OrderStatus = "blocked"
	OrderStatusDryRun  OrderStatus = "dry_run"
	OrderStatusFailed  OrderStatus = "failed"
)

// OrderRequest describes a single order to send to the exchange.
type OrderRequest struct {
	Symbol string
	Side   Side
	Price  float64
	Size   float64
}

// OrderResult is the structured outcome of an order placement. Placement
// never returns an error; every failure is described here.
type OrderResult struct {
	Status        OrderStatus
	Symbol        string
	Side          Side
	Price         float64
	Size          float64
	ProductID     int
	OrderID       string
	State         string
	ExpectedPrice float64
	MarketPrice   float64
	Message       string
	Error         string
	SubmittedAt   time.Time
}

// Success reports whether the order reached the exchange.
func (r OrderResult) Success() bool {
	return r.Status == OrderStatusPlaced
}

// DryRun reports whether sending was suppressed by the dry-run switch.
func (r OrderResult) DryRun() bool {
	return r.Status == OrderStatusDryRun
}

// Blocked reports whether price verification refused the order.
func (r OrderResult) Blocked() bool {
	return r.Status == OrderStatusBlocked
}

// Product is an exchange instrument.
type Product struct {
	ID           int
	Symbol       string
	ContractType string
	State        string
}

// PlacedOrder is the exchange acknowledgement of an accepted order.
type PlacedOrder struct {
	ID    string
	State string
}

// IsPerpetual reports whether the product is a perpetual contract.
func (p Product) IsPerpetual() bool {
	return strings.Contains(strings.ToLower(p.ContractType), "perpetual")
}
