package reconciler

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker/paper"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/pkg/types"
)

func testSM(t *testing.T, balance float64) (*state.Manager, func()) {
	t.Helper()
	m := state.New(zap.NewNop(), "", true, balance)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	return m, func() { cancel(); m.Stop() }
}

func TestReconcileNowSkippedInPaperMode(t *testing.T) {
	sm, stop := testSM(t, 1000)
	defer stop()
	adapter := paper.New(zap.NewNop(), types.AssetCrypto, 1000)

	r := New(zap.NewNop(), adapter, sm, true)
	result := r.ReconcileNow(context.Background())
	if !result.Skipped {
		t.Fatalf("expected skipped result in paper mode, got %+v", result)
	}
}

func TestReconcileNowNoDriftWhenConsistent(t *testing.T) {
	sm, stop := testSM(t, 1000)
	defer stop()
	adapter := paper.New(zap.NewNop(), types.AssetCrypto, 1000)

	r := New(zap.NewNop(), adapter, sm, false)
	result := r.ReconcileNow(context.Background())
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Drift.Severity != types.DriftNone {
		t.Fatalf("severity = %v, want none", result.Drift.Severity)
	}
}

func TestReconcileNowCriticalDriftPausesTrading(t *testing.T) {
	sm, stop := testSM(t, 1000)
	defer stop()
	adapter := paper.New(zap.NewNop(), types.AssetCrypto, 1000)
	adapter.SetLastPrice("BTC-USD", 100)
	if _, err := adapter.PlaceOrder(context.Background(), types.Order{Symbol: "BTC-USD", Side: types.Buy, Type: types.OrderMarket, Size: 1}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	r := New(zap.NewNop(), adapter, sm, false)
	result := r.ReconcileNow(context.Background())
	if result.Drift.Severity != types.DriftCritical {
		t.Fatalf("severity = %v, want critical (venue has a position, state manager has none)", result.Drift.Severity)
	}

	snap := sm.Snapshot()
	if snap.IsTrading {
		t.Fatal("trading not paused after critical drift")
	}
	if !snap.RecoveryMode {
		t.Fatal("recovery mode not set after critical drift")
	}
}

func TestOverlappingReconcileReturnsBusy(t *testing.T) {
	sm, stop := testSM(t, 1000)
	defer stop()
	adapter := paper.New(zap.NewNop(), types.AssetCrypto, 1000)

	r := New(zap.NewNop(), adapter, sm, false)
	r.mu.Lock()
	r.reconciling = true
	r.mu.Unlock()

	result := r.ReconcileNow(context.Background())
	if !result.Busy {
		t.Fatalf("expected busy result while a reconciliation is in flight, got %+v", result)
	}
}

func TestStatsTracksCriticalCount(t *testing.T) {
	sm, stop := testSM(t, 1000)
	defer stop()
	r := New(zap.NewNop(), nil, sm, false)

	r.recordDrift(types.Drift{Severity: types.DriftCritical, PositionDriftBase: 1, BalanceDriftQuote: 2})
	r.recordDrift(types.Drift{Severity: types.DriftNone})

	stats := r.Stats()
	if stats.CriticalCount != 1 {
		t.Fatalf("critical count = %d, want 1", stats.CriticalCount)
	}
	if stats.MaxPositionDrift != 1 || stats.MaxBalanceDrift != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}
