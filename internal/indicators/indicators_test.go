package indicators

import (
	"testing"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func flatCandles(n int, price float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{TimestampMs: int64(i) * 60000, Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	return out
}

func TestRSIFlatDataReturnsFifty(t *testing.T) {
	closes := Closes(flatCandles(30, 100))
	got := RSI(closes, 14)
	if got != 50 {
		t.Fatalf("RSI on flat data = %v, want 50", got)
	}
}

func TestRSIAllGainsApproachesHundred(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	got := RSI(closes, 14)
	if got != 100 {
		t.Fatalf("RSI on monotonic gains = %v, want 100", got)
	}
}

func TestEMASeedsOnOldestClose(t *testing.T) {
	closes := []float64{10, 10, 10}
	got := EMA(closes, 5)
	if !types.FloatEqual(got, 10) {
		t.Fatalf("EMA of constant series = %v, want 10", got)
	}
}

func TestATRDefaultsOnShortSeries(t *testing.T) {
	candles := flatCandles(5, 100)
	got := ATR(candles, 14)
	if !types.FloatEqual(got, 0.02) {
		t.Fatalf("ATR on short series = %v, want 0.02 default", got)
	}
}

func TestStochasticFlatRangeReturnsFifty(t *testing.T) {
	candles := flatCandles(20, 50)
	got := Stochastic(candles, 14)
	if got.K != 50 || got.D != 50 {
		t.Fatalf("Stochastic on flat range = %+v, want {50 50}", got)
	}
}

func TestTwoPoleBounded(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7)*3
	}
	got := TwoPole(closes)
	if got < -1 || got > 1 {
		t.Fatalf("TwoPole = %v, want within [-1, 1]", got)
	}
}

func TestMACDHistogramSignConsistency(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	result := MACD(closes, 12, 26, 9)
	if result.Histogram != result.MACD-result.Signal {
		t.Fatalf("histogram %v != macd-signal %v", result.Histogram, result.MACD-result.Signal)
	}
}

func TestBollingerWidthNonNegative(t *testing.T) {
	candles := flatCandles(30, 100)
	closes := Closes(candles)
	for i := range closes {
		closes[i] += float64(i % 3)
	}
	b := Bollinger(closes, 20, 2)
	if b.Upper < b.Middle || b.Lower > b.Middle {
		t.Fatalf("Bollinger bands inverted: %+v", b)
	}
}

func TestEngineComputeCachesByTrailingWindow(t *testing.T) {
	e := NewEngine()
	candles := flatCandles(60, 100)

	first := e.Compute(candles)
	second := e.Compute(candles)
	if first != second {
		t.Fatalf("expected identical snapshot from cache, got %+v vs %+v", first, second)
	}
	if len(e.cache) != 1 {
		t.Fatalf("expected one cache entry, got %d", len(e.cache))
	}
}

func TestEngineCacheEvictsOldestBeyondCeiling(t *testing.T) {
	e := NewEngine()
	base := flatCandles(60, 100)

	for i := 0; i < maxCacheEntries+10; i++ {
		c := make([]types.Candle, len(base))
		copy(c, base)
		c[len(c)-1].Close = 100 + float64(i)
		e.Compute(c)
	}

	if len(e.cache) > maxCacheEntries {
		t.Fatalf("cache grew beyond ceiling: %d entries", len(e.cache))
	}
}
