// Package metrics exposes the engine's Prometheus gauges and counters.
// Grounded on the teacher's unused prometheus/client_golang require — the
// teacher wired the dependency into go.mod but no package in that tree ever
// registered a collector; this package is that registration point, shared
// by StateManager, Reconciler and the broker adapters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the engine-wide Prometheus registry. A dedicated registry
// (rather than the global default) keeps test processes from panicking on
// duplicate registration across package-level test binaries.
var Registry = prometheus.NewRegistry()

var (
	// Balance is the account's current free balance in quote currency.
	Balance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeengine_balance_quote",
		Help: "Current free balance in quote currency.",
	})

	// PositionSize is the current open position size in base currency.
	PositionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeengine_position_base",
		Help: "Current open position size in base currency.",
	})

	// RealizedPnL is the cumulative realized profit/loss.
	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeengine_realized_pnl_quote",
		Help: "Cumulative realized profit/loss in quote currency.",
	})

	// DailyTradeCount is the number of trades opened so far today.
	DailyTradeCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeengine_daily_trade_count",
		Help: "Number of trades opened today.",
	})

	// TradingPaused is 1 when StateManager.isTrading is false.
	TradingPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tradeengine_trading_paused",
		Help: "1 if trading is currently paused, 0 otherwise.",
	})

	// ReconcileDrift counts reconciliation outcomes by severity.
	ReconcileDrift = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeengine_reconcile_drift_total",
		Help: "Count of reconciliation passes by drift severity.",
	}, []string{"severity"})

	// OrdersSubmitted counts orders submitted to adapters by venue and side.
	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeengine_orders_submitted_total",
		Help: "Count of orders submitted to broker adapters.",
	}, []string{"venue", "side"})

	// RateLimitWaits counts times an adapter's REST drain had to queue.
	RateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeengine_rate_limit_waits_total",
		Help: "Count of REST requests that had to wait for rate-limit capacity.",
	}, []string{"venue"})

	// CandleDrops counts out-of-order or malformed candle rejections.
	CandleDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeengine_candle_drops_total",
		Help: "Count of dropped candle messages by reason.",
	}, []string{"reason"})
)

func init() {
	Registry.MustRegister(
		Balance, PositionSize, RealizedPnL, DailyTradeCount, TradingPaused,
		ReconcileDrift, OrdersSubmitted, RateLimitWaits, CandleDrops,
	)
}
