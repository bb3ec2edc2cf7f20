// Package metrics exposes the Prometheus collectors of the engine. The
// collectors register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signalbot"

// SignalsProcessed counts processed signals by outcome.
var SignalsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signals",
		Name:      "processed_total",
		Help:      "Signals processed, by outcome.",
	},
	[]string{"outcome"},
)

// OrdersSubmitted counts order attempts by result status.
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "submitted_total",
		Help:      "Order attempts, by result status.",
	},
	[]string{"status"},
)

// PriceDeviation observes |mid - expected| / expected for every price check.
var PriceDeviation = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "price_deviation_ratio",
		Help:      "Relative deviation between signal price and market mid.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
	},
)

// RiskExits counts positions closed by the risk guard, by exit kind.
var RiskExits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "exits_total",
		Help:      "Positions closed by the risk guard, by exit kind.",
	},
	[]string{"kind"},
)

// MonitorIterations counts completed risk and price loop iterations.
var MonitorIterations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "iterations_total",
		Help:      "Completed monitor iterations, by loop.",
	},
	[]string{"loop"},
)

// MonitorErrors counts per-symbol failures inside monitor loops.
var MonitorErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "errors_total",
		Help:      "Per-symbol monitor failures, by loop.",
	},
	[]string{"loop"},
)

// OpenPositions is the number of OPEN positions seen by the last risk pass.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "positions",
		Name:      "open",
		Help:      "OPEN positions seen by the last risk pass.",
	},
)
