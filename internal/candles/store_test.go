package candles

import (
	"testing"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func testStore() *Store {
	return NewStore(zap.NewNop(), types.TF1m, []types.Timeframe{types.TF5m})
}

func candleAt(tsMs int64, close float64) types.Candle {
	return types.Candle{TimestampMs: tsMs, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func TestIngestAppendsInOrder(t *testing.T) {
	st := testStore()
	st.Ingest("BTC-USD", candleAt(60000, 100))
	st.Ingest("BTC-USD", candleAt(120000, 101))

	got := st.GetCandles("BTC-USD", types.TF1m, 10)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Close != 101 {
		t.Fatalf("last close = %v, want 101", got[1].Close)
	}
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	st := testStore()
	st.Ingest("BTC-USD", candleAt(120000, 100))
	st.Ingest("BTC-USD", candleAt(60000, 99))

	if st.Stats().Drops != 1 {
		t.Fatalf("drops = %d, want 1", st.Stats().Drops)
	}
	got := st.GetCandles("BTC-USD", types.TF1m, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (out-of-order candle rejected)", len(got))
	}
}

func TestIngestReplacesSameTimestamp(t *testing.T) {
	st := testStore()
	st.Ingest("BTC-USD", candleAt(60000, 100))
	st.Ingest("BTC-USD", candleAt(60000, 105))

	got := st.GetCandles("BTC-USD", types.TF1m, 10)
	if len(got) != 1 || got[0].Close != 105 {
		t.Fatalf("got %+v, want single replaced candle at 105", got)
	}
}

func TestAggregationOpenHighLowCloseVolume(t *testing.T) {
	st := testStore()
	base := []types.Candle{
		{TimestampMs: 0, Open: 100, High: 105, Low: 99, Close: 102, Volume: 10},
		{TimestampMs: 60000, Open: 102, High: 110, Low: 101, Close: 108, Volume: 20},
		{TimestampMs: 120000, Open: 108, High: 109, Low: 95, Close: 97, Volume: 5},
		{TimestampMs: 180000, Open: 97, High: 98, Low: 90, Close: 93, Volume: 15},
		{TimestampMs: 240000, Open: 93, High: 100, Low: 92, Close: 99, Volume: 8},
	}
	for _, c := range base {
		st.Ingest("BTC-USD", c)
	}

	got := st.GetCandles("BTC-USD", types.TF5m, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 bucket", len(got))
	}
	bucket := got[0]
	if bucket.Open != 100 {
		t.Fatalf("open = %v, want 100 (first candle's open)", bucket.Open)
	}
	if bucket.Close != 99 {
		t.Fatalf("close = %v, want 99 (last candle's close)", bucket.Close)
	}
	if bucket.High != 110 {
		t.Fatalf("high = %v, want 110 (max high)", bucket.High)
	}
	if bucket.Low != 90 {
		t.Fatalf("low = %v, want 90 (min low)", bucket.Low)
	}
	if bucket.Volume != 58 {
		t.Fatalf("volume = %v, want 58 (sum)", bucket.Volume)
	}
}

func TestInvalidCandleDropped(t *testing.T) {
	st := testStore()
	st.Ingest("BTC-USD", types.Candle{TimestampMs: 60000, Open: 100, High: 90, Low: 95, Close: 100, Volume: 1})

	if st.Stats().Drops != 1 {
		t.Fatalf("drops = %d, want 1", st.Stats().Drops)
	}
}

func TestAddTimeframeBackfillsFromExistingBase(t *testing.T) {
	st := testStore()
	base := []types.Candle{
		{TimestampMs: 0, Open: 100, High: 105, Low: 99, Close: 102, Volume: 10},
		{TimestampMs: 60000, Open: 102, High: 110, Low: 101, Close: 108, Volume: 20},
		{TimestampMs: 120000, Open: 108, High: 109, Low: 95, Close: 97, Volume: 5},
	}
	for _, c := range base {
		st.Ingest("BTC-USD", c)
	}

	st.AddTimeframe("BTC-USD", types.TF15m)

	got := st.GetCandles("BTC-USD", types.TF15m, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 bucket backfilled immediately", len(got))
	}
	if got[0].Volume != 35 {
		t.Fatalf("volume = %v, want 35 (sum of all three base candles)", got[0].Volume)
	}

	// A later base ingest must keep aggregating the newly added timeframe.
	st.Ingest("BTC-USD", candleAt(900000, 120))
	got = st.GetCandles("BTC-USD", types.TF15m, 10)
	if len(got) != 2 {
		t.Fatalf("len after later ingest = %d, want 2 buckets", len(got))
	}
}

func TestGetIncludeIncompleteExcludesTipCandle(t *testing.T) {
	st := testStore()
	st.Ingest("BTC-USD", candleAt(60000, 100))
	st.Ingest("BTC-USD", candleAt(120000, 101))

	complete := st.Get("BTC-USD", types.TF1m, 10, false, false)
	if len(complete) != 1 || complete[0].Close != 100 {
		t.Fatalf("includeIncomplete=false got %+v, want only the first (non-tip) candle", complete)
	}

	all := st.Get("BTC-USD", types.TF1m, 10, true, false)
	if len(all) != 2 {
		t.Fatalf("includeIncomplete=true len = %d, want 2", len(all))
	}
}

func TestCleanupRespectsFloor(t *testing.T) {
	st := testStore()
	for i := 0; i < 500; i++ {
		st.Ingest("BTC-USD", candleAt(int64(i)*60000, 100+float64(i%5)))
	}
	st.mu.Lock()
	st.series["BTC-USD"][types.TF1m].trim(100)
	st.mu.Unlock()

	st.mu.RLock()
	n := len(st.series["BTC-USD"][types.TF1m].candles)
	st.mu.RUnlock()
	if n < floorPerTimeframe {
		t.Fatalf("trim went below floor: %d < %d", n, floorPerTimeframe)
	}
}
