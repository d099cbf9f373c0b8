package profit

import (
	"testing"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func baseConfig() Config {
	c := DefaultConfig()
	c.MinHoldMinutes = 0
	return c
}

func TestInitialStopBelowEntryForLong(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 1, 0, baseConfig(), 1, 1, 1)
	if m.currentStop >= 100 {
		t.Fatalf("initial stop = %v, want < entry 100", m.currentStop)
	}
}

func TestTierExitEmitsPartialAndRealizesPnL(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 10, 0, baseConfig(), 1, 1, 1)
	target := m.tiers[0].TargetPrice

	d := m.OnPriceUpdate(target, 1000, 0.01)
	if d.Action != ActionExitPartial {
		t.Fatalf("action = %v, want exit_partial", d.Action)
	}
	if d.Size == nil || *d.Size <= 0 {
		t.Fatalf("expected a positive partial exit size, got %+v", d.Size)
	}
	if m.realizedPnL <= 0 {
		t.Fatalf("realizedPnL = %v, want > 0 after a tier exit in profit", m.realizedPnL)
	}
	if !m.tiers[0].Completed {
		t.Fatal("tier 0 should be marked completed")
	}
}

func TestTierNeverRevisitedAfterCompletion(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 10, 0, baseConfig(), 1, 1, 1)
	target := m.tiers[0].TargetPrice

	first := m.OnPriceUpdate(target, 1000, 0.01)
	if first.Action != ActionExitPartial {
		t.Fatalf("first hit action = %v, want exit_partial", first.Action)
	}
	second := m.OnPriceUpdate(target, 2000, 0.01)
	if second.Action == ActionExitPartial && second.Tier != nil && *second.Tier == 0 {
		t.Fatal("tier 0 fired a second time")
	}
}

func TestStopExitFullOnAdverseCross(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 5, 0, baseConfig(), 1, 1, 1)
	stop := m.currentStop

	d := m.OnPriceUpdate(stop-0.01, 1000, 0.01)
	if d.Action != ActionExitFull {
		t.Fatalf("action = %v, want exit_full on stop cross", d.Action)
	}
}

func TestMinHoldGuardBlocksExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHoldMinutes = 10
	m := New("BTC-USD", types.Buy, 100, 5, 0, cfg, 1, 1, 1)

	d := m.OnPriceUpdate(m.currentStop-1, 1000, 0.01) // 1s elapsed, well under 10 minutes
	if d.Action != ActionHold {
		t.Fatalf("action = %v, want hold under the min-hold guard", d.Action)
	}
}

func TestTrailingStopTightensOnlyNeverLoosens(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 5, 0, baseConfig(), 1, 1, 1)

	up := m.OnPriceUpdate(100.8, 1000, 0.01) // above min profit, below tier 0's 101 target
	if up.Action != ActionUpdate {
		t.Fatalf("action = %v, want update after crossing min-profit threshold", up.Action)
	}
	tightened := m.currentStop

	down := m.OnPriceUpdate(100.5, 2000, 0.01)
	if down.Action == ActionUpdate {
		t.Fatal("stop should not update on a price pullback that doesn't raise the high water mark")
	}
	if m.currentStop != tightened {
		t.Fatalf("stop loosened from %v to %v", tightened, m.currentStop)
	}
}

func TestBreakevenStopNeverLoosensExistingTighterStop(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 5, 0, baseConfig(), 1, 1, 1)
	m.currentStop = 100.5 // simulate an already-tighter trailing stop

	d := m.OnPriceUpdate(100.3, 1000, 0.01) // crosses breakeven threshold but candidate stop is looser
	if d.Action == ActionUpdate {
		t.Fatal("breakeven arming should not loosen an already-tighter stop")
	}
	if m.currentStop != 100.5 {
		t.Fatalf("stop changed to %v, want unchanged 100.5", m.currentStop)
	}
}

func TestTimeExitFiresAfterMaxHold(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxHoldMinutes = 1
	m := New("BTC-USD", types.Buy, 100, 5, 0, cfg, 1, 1, 1)

	d := m.OnPriceUpdate(100, 2*60*1000, 0.01) // 2 minutes elapsed
	if d.Action != ActionExitFull {
		t.Fatalf("action = %v, want exit_full on max hold exceeded", d.Action)
	}
}

func TestHighVolatilityWidensStopDistance(t *testing.T) {
	// A single tier out of reach, so the move arms trailing rather than
	// exiting, and a move large enough that the trailing candidate beats
	// the breakeven stop (100.1) in both regimes.
	cfg := baseConfig()
	cfg.TierTargetPcts = []float64{0.05}
	cfg.TierExitFractions = []float64{1}

	m := New("BTC-USD", types.Buy, 100, 5, 0, cfg, 1, 1, 1)
	m.OnPriceUpdate(103, 1000, 0.01) // arm trailing at normal vol
	normalStop := m.currentStop

	m2 := New("BTC-USD", types.Buy, 100, 5, 0, cfg, 1, 1, 1)
	m2.OnPriceUpdate(103, 1000, 0.03) // arm trailing at high vol (>= 0.02)
	highVolStop := m2.currentStop

	if highVolStop >= normalStop {
		t.Fatalf("high-volatility trailing stop (%v) should sit further from price than normal (%v)", highVolStop, normalStop)
	}
}

func TestShortPositionMirrorsLongLogic(t *testing.T) {
	m := New("BTC-USD", types.Sell, 100, 5, 0, baseConfig(), 1, 1, 1)
	if m.currentStop <= 100 {
		t.Fatalf("short initial stop = %v, want > entry 100", m.currentStop)
	}
	target := m.tiers[0].TargetPrice
	if target >= 100 {
		t.Fatalf("short tier target = %v, want < entry 100", target)
	}

	d := m.OnPriceUpdate(target, 1000, 0.01)
	if d.Action != ActionExitPartial {
		t.Fatalf("action = %v, want exit_partial on short tier hit", d.Action)
	}
}

func TestClosedPositionIgnoresFurtherUpdates(t *testing.T) {
	m := New("BTC-USD", types.Buy, 100, 1, 0, baseConfig(), 1, 1, 1)
	stop := m.currentStop
	d := m.OnPriceUpdate(stop-1, 1000, 0.01)
	if d.Action != ActionExitFull {
		t.Fatalf("setup: action = %v, want exit_full", d.Action)
	}
	again := m.OnPriceUpdate(200, 2000, 0.01)
	if again.Action != ActionHold || again.Reason != "position_closed" {
		t.Fatalf("closed position should ignore further updates, got %+v", again)
	}
}
