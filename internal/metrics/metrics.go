// Package metrics holds the Prometheus collectors for the trading engine.
// Everything registers on the default registry via promauto; the admin HTTP
// server exposes it on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayCalls counts exchange API calls by operation and outcome
// (success, retryable, fatal).
var GatewayCalls = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Total exchange API calls by operation and outcome",
	},
	[]string{"op", "outcome"},
)

// GatewayRetries counts retry attempts by operation and error class.
var GatewayRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Total retry attempts by operation and error class",
	},
	[]string{"op", "class"},
)

// OrdersPlaced counts orders sent to the venue by type and side.
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "trading",
		Name:      "orders_placed_total",
		Help:      "Total orders placed by type and side",
	},
	[]string{"type", "side"},
)

// TradesClosed counts closed trades by result (win, loss).
var TradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "trading",
		Name:      "trades_closed_total",
		Help:      "Total closed trades by result",
	},
	[]string{"result"},
)

// RealizedPNL accumulates realized profit in the quote asset. A gauge, not a
// counter: losing closes subtract from it.
var RealizedPNL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "trading",
		Name:      "realized_pnl_usdt",
		Help:      "Cumulative realized PnL in the quote asset",
	},
)

// OpenPositions tracks the number of currently open positions.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Number of currently open positions",
	},
)

// ProtectionMode is 1 while the risk layer has trading restricted.
var ProtectionMode = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "risk",
		Name:      "protection_mode",
		Help:      "1 while protection mode is active, 0 otherwise",
	},
)

// DrawdownPercent tracks the current drawdown from the balance peak.
var DrawdownPercent = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "risk",
		Name:      "drawdown_percent",
		Help:      "Current drawdown from the balance high-water mark",
	},
)

// PoolSize tracks the number of symbols in the opportunity pool.
var PoolSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "opportunity",
		Name:      "pool_size",
		Help:      "Number of symbols tracked by the opportunity pool",
	},
)

// PoolEvictions counts pool evictions caused by the capacity bound.
var PoolEvictions = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "opportunity",
		Name:      "evictions_total",
		Help:      "Total pool evictions due to the capacity bound",
	},
)
