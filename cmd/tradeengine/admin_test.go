package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker/paper"
	"github.com/vertexquant/tradeengine/internal/reconciler"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/pkg/types"
)

func testAdmin(t *testing.T) (*adminServer, *state.Manager, func()) {
	t.Helper()
	sm := state.New(zap.NewNop(), "", true, 10_000)
	ctx, cancel := context.WithCancel(context.Background())
	sm.Start(ctx)

	adapter := paper.New(zap.NewNop(), types.AssetCrypto, 10_000)
	rec := reconciler.New(zap.NewNop(), adapter, sm, true)

	a := newAdminServer(zap.NewNop(), sm, rec)
	return a, sm, func() { cancel(); sm.Stop() }
}

func TestAdminPauseThenResume(t *testing.T) {
	a, sm, stop := testAdmin(t)
	defer stop()

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/pause", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	if sm.Snapshot().IsTrading {
		t.Fatal("expected trading to be paused")
	}

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/resume", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if !sm.Snapshot().IsTrading {
		t.Fatal("expected trading to resume")
	}
}

func TestAdminReconcileNowOnPaperIsNoOpSuccess(t *testing.T) {
	a, _, stop := testAdmin(t)
	defer stop()

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/reconcile-now", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
}

func TestAdminEmergencySyncClearsPositions(t *testing.T) {
	a, sm, stop := testAdmin(t)
	defer stop()

	trade := types.ActiveTrade{OrderID: "o1", Size: 1, Price: 100, EntryPrice: 100}
	if err := sm.OpenPosition(trade, 1, 100); err != nil {
		t.Fatalf("seed open position: %v", err)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/emergency-sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if pos := sm.Snapshot().Position; pos != 0 {
		t.Fatalf("position after emergency sync = %v, want 0", pos)
	}
}
