package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker/paper"
	"github.com/vertexquant/tradeengine/internal/candles"
	"github.com/vertexquant/tradeengine/internal/flags"
	"github.com/vertexquant/tradeengine/internal/indicators"
	"github.com/vertexquant/tradeengine/internal/reconciler"
	"github.com/vertexquant/tradeengine/internal/signals"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/pkg/types"
)

const testSymbol = types.Symbol("BTC-USD")

func testFlags(t *testing.T, tier flags.Tier, enabled ...string) *flags.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "features.json")

	features := map[string]any{}
	for _, name := range enabled {
		features[name] = map[string]any{"enabled": true}
	}
	body, _ := json.Marshal(map[string]any{"features": features})
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write features.json: %v", err)
	}

	m, err := flags.New(zap.NewNop(), path, tier)
	if err != nil {
		t.Fatalf("flags.New: %v", err)
	}
	return m
}

func testSM(t *testing.T, balance float64) (*state.Manager, func()) {
	t.Helper()
	m := state.New(zap.NewNop(), "", true, balance)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	return m, func() { cancel(); m.Stop() }
}

func testOrchestratorTier(t *testing.T, balance float64, tier flags.Tier, flagNames ...string) (*Orchestrator, *paper.Adapter, *state.Manager, func()) {
	t.Helper()
	sm, stop := testSM(t, balance)
	adapter := paper.New(zap.NewNop(), types.AssetCrypto, balance)
	flagMgr := testFlags(t, tier, flagNames...)

	cfg := DefaultConfig(testSymbol)
	cfg.MinConfidence = 10
	cfg.ProfitConfig.MinHoldMinutes = 0

	rec := reconciler.New(zap.NewNop(), adapter, sm, true)
	o := New(zap.NewNop(), cfg, adapter, candles.NewStore(zap.NewNop(), types.TF1m, nil), indicators.NewEngine(), signals.New(zap.NewNop(), flagMgr, "", "test", "paper"), sm, rec, flagMgr, nil, nil)

	return o, adapter, sm, stop
}

func testOrchestrator(t *testing.T, balance float64, flagNames ...string) (*Orchestrator, *paper.Adapter, *state.Manager, func()) {
	t.Helper()
	return testOrchestratorTier(t, balance, flags.TierElite, flagNames...)
}

func bar(ts int64, close float64) types.Candle {
	return types.Candle{TimestampMs: ts, Open: close, High: close, Low: close, Close: close, Volume: 100}
}

// oversoldSnapshot is a hand-built indicator bundle that always votes a
// clean BUY (RSI oversold, no conflicting MACD/Bollinger signal), mirroring
// how the signal engine's own tests inject a Snapshot directly rather than
// deriving one from a real candle series.
func oversoldSnapshot() indicators.Snapshot {
	return indicators.Snapshot{RSI: 20, Bollinger: indicators.BollingerResult{Lower: 50, Upper: 1000}}
}

func TestEntryOnOversoldBuySignalOpensPosition(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	adapter.SetLastPrice(testSymbol, 100)

	o.evaluateEntry(context.Background(), bar(1000, 100), oversoldSnapshot(), sm.Snapshot())

	snap := sm.Snapshot()
	if snap.Position <= 0 {
		t.Fatalf("position = %v, want > 0 after an oversold entry signal", snap.Position)
	}
	if o.manager == nil {
		t.Fatal("expected a ProfitManager instance to be tracking the new position")
	}
}

func TestNoEntryBelowMinConfidence(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	adapter.SetLastPrice(testSymbol, 100)
	o.config.MinConfidence = 1000 // unreachable

	o.evaluateEntry(context.Background(), bar(1000, 100), oversoldSnapshot(), sm.Snapshot())

	if sm.Snapshot().Position != 0 {
		t.Fatal("should not enter when confidence can never reach the configured minimum")
	}
}

func TestNoEntryOnHoldDirection(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	adapter.SetLastPrice(testSymbol, 100)

	neutral := indicators.Snapshot{RSI: 50, Bollinger: indicators.BollingerResult{Lower: 50, Upper: 1000}}
	o.evaluateEntry(context.Background(), bar(1000, 100), neutral, sm.Snapshot())

	if sm.Snapshot().Position != 0 {
		t.Fatal("a neutral snapshot should vote HOLD and never open a position")
	}
}

func TestNoEntryAtDailyTradeCap(t *testing.T) {
	o, adapter, sm, stop := testOrchestratorTier(t, 10_000, flags.TierStarter) // maxDailyTrades = 5
	defer stop()
	adapter.SetLastPrice(testSymbol, 100)

	for i := 0; i < 5; i++ {
		trade := types.ActiveTrade{OrderID: "seed" + string(rune('a'+i)), Size: 0.001, Price: 100, EntryPrice: 100}
		if err := sm.OpenPosition(trade, 0.001, 100); err != nil {
			t.Fatalf("seed trade %d: %v", i, err)
		}
		if err := sm.ClosePosition(trade.OrderID, 0.001, 0); err != nil {
			t.Fatalf("close seed trade %d: %v", i, err)
		}
	}
	if sm.Snapshot().DailyTradeCount < 5 {
		t.Fatalf("setup: daily trade count = %d, want >= 5", sm.Snapshot().DailyTradeCount)
	}

	o.evaluateEntry(context.Background(), bar(1000, 100), oversoldSnapshot(), sm.Snapshot())

	if sm.Snapshot().Position != 0 {
		t.Fatal("should not enter once the tier's daily trade cap is reached")
	}
}

// openTestPosition drives a real entry through evaluateEntry so the
// resulting ProfitManager, orderID and StateManager state are all wired
// exactly as a live ProcessCandle entry would leave them.
func openTestPosition(t *testing.T, o *Orchestrator, adapter *paper.Adapter, sm *state.Manager, price float64) {
	t.Helper()
	adapter.SetLastPrice(testSymbol, price)
	o.evaluateEntry(context.Background(), bar(1000, price), oversoldSnapshot(), sm.Snapshot())
	if sm.Snapshot().Position <= 0 {
		t.Fatalf("setup: expected an open position at price %v", price)
	}
}

func TestPartialExitAtFirstTierReducesPosition(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	openTestPosition(t, o, adapter, sm, 100)
	opened := sm.Snapshot()

	target := o.manager.Snapshot().Tiers[0].TargetPrice
	adapter.SetLastPrice(testSymbol, target)
	o.evaluateExit(context.Background(), bar(2000, target), indicators.Snapshot{Volatility: 0.01})

	after := sm.Snapshot()
	if after.Position >= opened.Position {
		t.Fatalf("position after tier exit = %v, want < %v", after.Position, opened.Position)
	}
	if after.RealizedPnL <= 0 {
		t.Fatalf("realized PnL = %v, want > 0 after a profitable tier exit", after.RealizedPnL)
	}
	if o.manager == nil {
		t.Fatal("a partial exit should leave the ProfitManager tracking the remaining size")
	}
}

func TestStopExitClosesPositionAndClearsManager(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	openTestPosition(t, o, adapter, sm, 100)

	stopPrice := o.manager.Snapshot().CurrentStop
	adapter.SetLastPrice(testSymbol, stopPrice-1)
	o.evaluateExit(context.Background(), bar(2000, stopPrice-1), indicators.Snapshot{Volatility: 0.01})

	after := sm.Snapshot()
	if after.Position != 0 {
		t.Fatalf("position after stop exit = %v, want 0", after.Position)
	}
	if o.manager != nil {
		t.Fatal("expected ProfitManager to be cleared after a full exit")
	}
}

func TestProcessCandleSkipsEverythingWhileTradingPaused(t *testing.T) {
	o, adapter, sm, stop := testOrchestrator(t, 10_000)
	defer stop()
	adapter.SetLastPrice(testSymbol, 100)
	if err := sm.PauseTrading(false); err != nil {
		t.Fatalf("pause trading: %v", err)
	}

	o.ProcessCandle(context.Background(), bar(1000, 100))

	if sm.Snapshot().Position != 0 {
		t.Fatal("ProcessCandle should not act while trading is paused")
	}
}

func TestRunStopsCleanlyWithoutLiveSubscription(t *testing.T) {
	// The paper adapter's SubscribeCandles returns an already-closed
	// channel (no live feed); Run must still start its reconcile sibling
	// loop and shut down cleanly rather than spin or hang.
	o, _, _, stop := testOrchestrator(t, 10_000)
	defer stop()
	o.config.ReconcileInterval = 0 // falls back to a default rather than a busy loop

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	o.Stop()
	cancel()
	<-done
}
