// Package orchestrator wires CandleStore, IndicatorEngine, SignalEngine,
// StateManager, ProfitManager, the Reconciler and a BrokerAdapter into the
// engine's per-symbol trading loop.
//
// Grounded on the teacher's internal/orchestrator/orchestrator.go for the
// running-flag/stopCh control shape, ticker+select periodic tasks and
// event-bus-driven notification, and internal/workers/pool.go for
// offloading reconciliation off the hot candle path.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker"
	"github.com/vertexquant/tradeengine/internal/candles"
	"github.com/vertexquant/tradeengine/internal/events"
	"github.com/vertexquant/tradeengine/internal/flags"
	"github.com/vertexquant/tradeengine/internal/indicators"
	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/internal/profit"
	"github.com/vertexquant/tradeengine/internal/reconciler"
	"github.com/vertexquant/tradeengine/internal/signals"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/internal/workers"
	"github.com/vertexquant/tradeengine/pkg/types"
	"github.com/vertexquant/tradeengine/pkg/utils"
)

// Config holds the per-symbol tunables the loop needs beyond what the
// wired components already carry internally.
type Config struct {
	Symbol         types.Symbol
	Timeframe      types.Timeframe
	IndicatorWindow int
	MinConfidence  float64
	BaseSize       float64
	ProfitConfig   profit.Config

	ReconcileInterval time.Duration
}

// DefaultConfig returns a sensible per-symbol configuration.
func DefaultConfig(symbol types.Symbol) Config {
	return Config{
		Symbol: symbol, Timeframe: types.TF1m, IndicatorWindow: 200,
		MinConfidence: 40, BaseSize: 0.01, ProfitConfig: profit.DefaultConfig(),
		ReconcileInterval: 30 * time.Second,
	}
}

// reconnectBackoff implements spec's reconnection-storm rule: warn after
// 10 consecutive attempts, error after 50, never give up and stop trying.
type reconnectBackoff struct {
	mu       sync.Mutex
	attempts int
}

func (b *reconnectBackoff) attempt(logger *zap.Logger, symbol types.Symbol) {
	b.mu.Lock()
	b.attempts++
	n := b.attempts
	b.mu.Unlock()

	switch {
	case n == 50:
		logger.Error("repeated subscription reconnect failures", zap.String("symbol", string(symbol)), zap.Int("attempts", n))
	case n == 10:
		logger.Warn("subscription reconnecting repeatedly", zap.String("symbol", string(symbol)), zap.Int("attempts", n))
	}
}

func (b *reconnectBackoff) reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Orchestrator runs one symbol's trading loop against one broker.Adapter.
type Orchestrator struct {
	logger  *zap.Logger
	config  Config
	adapter broker.Adapter

	candles    *candles.Store
	indicators *indicators.Engine
	signals    *signals.Engine
	state      *state.Manager
	reconciler *reconciler.Reconciler
	flags      *flags.Manager
	bus        *events.Bus
	pool       *workers.Pool

	mu      sync.Mutex
	manager *profit.Manager // nil while flat
	orderID string          // the opening order's id, tracked for ClosePosition

	reconnect reconnectBackoff

	running bool
	stopCh  chan struct{}
}

// New constructs an Orchestrator. bus and pool may be nil, in which case
// events aren't published and reconciliation runs inline instead of on a
// worker.
func New(
	logger *zap.Logger, config Config, adapter broker.Adapter,
	candleStore *candles.Store, indicatorEngine *indicators.Engine, signalEngine *signals.Engine,
	sm *state.Manager, rec *reconciler.Reconciler, flagMgr *flags.Manager, bus *events.Bus, pool *workers.Pool,
) *Orchestrator {
	return &Orchestrator{
		logger: logger.Named("orchestrator").With(zap.String("symbol", string(config.Symbol))),
		config: config, adapter: adapter,
		candles: candleStore, indicators: indicatorEngine, signals: signalEngine,
		state: sm, reconciler: rec, flags: flagMgr, bus: bus, pool: pool,
		stopCh: make(chan struct{}),
	}
}

// Run subscribes to the adapter's candle stream and drives ProcessCandle
// for each bar, re-subscribing on a closed channel per spec's reconnect
// rule, until ctx is cancelled or Stop is called. A sibling goroutine
// drives periodic reconciliation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running for %s", o.config.Symbol)
	}
	o.running = true
	o.mu.Unlock()

	go o.reconcileLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.stopCh:
			return nil
		default:
		}

		ch, err := o.adapter.SubscribeCandles(o.config.Symbol, o.config.Timeframe)
		if err != nil {
			o.reconnect.attempt(o.logger, o.config.Symbol)
			if !o.sleepOrDone(ctx, time.Second) {
				return nil
			}
			continue
		}
		o.reconnect.reset()

		if o.drainCandleStream(ctx, ch) {
			return nil
		}
		// Channel closed: the adapter dropped the stream. Loop back around
		// to resubscribe, backing off per spec's reconnection-storm rule.
		o.reconnect.attempt(o.logger, o.config.Symbol)
		if !o.sleepOrDone(ctx, time.Second) {
			return nil
		}
	}
}

// drainCandleStream processes candles from ch until it closes or ctx/stopCh
// fires. Returns true if the caller should stop entirely (ctx/stopCh), false
// if ch closed and the caller should resubscribe.
func (o *Orchestrator) drainCandleStream(ctx context.Context, ch <-chan types.Candle) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-o.stopCh:
			return true
		case c, ok := <-ch:
			if !ok {
				return false
			}
			o.ProcessCandle(ctx, c)
		}
	}
}

func (o *Orchestrator) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-o.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop halts Run and the reconciliation sibling loop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()
	close(o.stopCh)
}

func (o *Orchestrator) reconcileLoop(ctx context.Context) {
	interval := o.config.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.submitReconcile(ctx)
		}
	}
}

// submitReconcile runs ReconcileNow off the hot candle path when a worker
// pool is wired, falling back to running it inline otherwise.
func (o *Orchestrator) submitReconcile(ctx context.Context) {
	run := func() {
		result := o.reconciler.ReconcileNow(ctx)
		if result.Err != nil {
			o.publishRiskAlert(string(types.DriftCritical), result.Err.Error())
		} else if result.Drift.Severity != types.DriftNone {
			o.publishRiskAlert(string(result.Drift.Severity), "reconciliation drift detected")
		}
	}
	if o.pool == nil {
		run()
		return
	}
	if err := o.pool.SubmitFunc(run); err != nil {
		o.logger.Warn("reconcile task dropped, worker queue full", zap.Error(err))
	}
}

// ProcessCandle runs one full iteration of the per-symbol loop for a
// single newly closed candle: ingest, compute indicators, evaluate
// entry/exit, act on the result. Exposed separately from Run so it can be
// driven directly in tests against adapters (e.g. the paper adapter) whose
// SubscribeCandles never emits live data.
func (o *Orchestrator) ProcessCandle(ctx context.Context, c types.Candle) {
	o.candles.Ingest(o.config.Symbol, c)
	o.publishBar(c)

	window := o.candles.GetCandles(o.config.Symbol, o.config.Timeframe, o.config.IndicatorWindow)
	if len(window) == 0 {
		return
	}
	snapshot := o.indicators.Compute(window)

	account := o.state.Snapshot()
	if !account.IsTrading {
		return
	}

	if account.Position <= types.Epsilon {
		o.evaluateEntry(ctx, c, snapshot, account)
		return
	}
	o.evaluateExit(ctx, c, snapshot)
}

func (o *Orchestrator) evaluateEntry(ctx context.Context, c types.Candle, snapshot indicators.Snapshot, account types.AccountState) {
	decision := o.signals.Evaluate(signals.Input{
		Symbol: string(o.config.Symbol), Timeframe: string(o.config.Timeframe),
		Price: c.Close, Volume: c.Volume, Snapshot: snapshot,
	}, nil)
	o.publishSignal(decision)

	if decision.Direction != signals.Buy {
		return
	}
	if decision.Confidence < o.config.MinConfidence {
		return
	}
	maxDailyTrades := int(o.flags.TierValue("maxDailyTrades"))
	if maxDailyTrades > 0 && account.DailyTradeCount >= maxDailyTrades {
		return
	}

	size := o.config.BaseSize * o.signals.SizeMultiplier(decision.PatternQuality)
	if size <= 0 {
		return
	}

	order := types.Order{
		Symbol: o.config.Symbol, Side: types.Buy, Type: types.OrderMarket,
		Size: size, ClientID: utils.GenerateOrderID(), DecisionID: decision.DecisionID,
	}
	result, err := o.adapter.PlaceOrder(ctx, order)
	metrics.OrdersSubmitted.WithLabelValues(o.adapter.BrokerName(), string(types.Buy)).Inc()
	if err != nil {
		o.logger.Warn("entry order failed", zap.Error(err))
		return
	}
	o.publishOrderResult(result)

	trade := types.ActiveTrade{
		OrderID: result.OrderID, Action: "open", Type: string(types.OrderMarket),
		Size: result.Filled, Price: result.AvgPrice, EntryPrice: result.AvgPrice,
		EntryTimeMs: c.TimestampMs,
	}
	if err := o.state.OpenPosition(trade, result.Filled, result.AvgPrice); err != nil {
		o.logger.Error("failed to record opened position", zap.Error(err))
		return
	}

	o.mu.Lock()
	o.manager = profit.New(o.config.Symbol, types.Buy, result.AvgPrice, result.Filled, c.TimestampMs, o.config.ProfitConfig, 1, 1, 1)
	o.orderID = result.OrderID
	o.mu.Unlock()
}

func (o *Orchestrator) evaluateExit(ctx context.Context, c types.Candle, snapshot indicators.Snapshot) {
	o.mu.Lock()
	manager := o.manager
	orderID := o.orderID
	o.mu.Unlock()
	if manager == nil {
		return
	}

	directive := manager.OnPriceUpdate(c.Close, c.TimestampMs, snapshot.Volatility)
	switch directive.Action {
	case profit.ActionExitPartial, profit.ActionExitFull:
		o.executeExit(ctx, directive, orderID, directive.Action == profit.ActionExitFull)
	}
}

func (o *Orchestrator) executeExit(ctx context.Context, directive profit.Directive, orderID string, full bool) {
	size := 0.0
	if directive.Size != nil {
		size = *directive.Size
	}
	if size <= 0 {
		return
	}

	order := types.Order{
		Symbol: o.config.Symbol, Side: types.Sell, Type: types.OrderMarket,
		Size: size, ClientID: utils.GenerateOrderID(),
	}
	result, err := o.adapter.PlaceOrder(ctx, order)
	metrics.OrdersSubmitted.WithLabelValues(o.adapter.BrokerName(), string(types.Sell)).Inc()
	if err != nil {
		o.logger.Warn("exit order failed", zap.Error(err), zap.String("reason", directive.Reason))
		return
	}
	o.publishOrderResult(result)

	if err := o.state.ClosePosition(orderID, result.Filled, directive.Realized); err != nil {
		o.logger.Error("failed to record closed position", zap.Error(err))
		return
	}

	if full {
		o.mu.Lock()
		o.manager = nil
		o.orderID = ""
		o.mu.Unlock()
	}
}

func (o *Orchestrator) publishBar(c types.Candle) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.BarEvent{
		Symbol: string(o.config.Symbol), TimeframeMs: o.config.Timeframe.IntervalMs(),
		Close: c.Close, TimestampMs: c.TimestampMs,
	})
}

func (o *Orchestrator) publishSignal(d signals.Decision) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.SignalEvent{
		Symbol: string(o.config.Symbol), Direction: string(d.Direction),
		Confidence: d.Confidence, DecisionID: d.DecisionID,
	})
}

func (o *Orchestrator) publishOrderResult(r types.OrderResult) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.OrderResultEvent{
		Symbol: string(o.config.Symbol), OrderID: r.OrderID,
		Status: string(r.Status), Filled: r.Filled, Price: r.AvgPrice,
	})
}

func (o *Orchestrator) publishRiskAlert(severity, reason string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.RiskAlertEvent{
		Symbol: string(o.config.Symbol), Severity: severity, Reason: reason,
	})
}
