package binance

import (
	"context"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func TestToVenueSymbolMapsUSDToUSDT(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	if got := a.ToVenueSymbol("BTC-USD"); got != "BTCUSDT" {
		t.Fatalf("ToVenueSymbol = %q, want BTCUSDT", got)
	}
}

func TestFromVenueSymbolStripsUSDT(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	if got := a.FromVenueSymbol("ETHUSDT"); got != types.Symbol("ETH-USD") {
		t.Fatalf("FromVenueSymbol = %q, want ETH-USD", got)
	}
}

func TestMapStatusKnownValues(t *testing.T) {
	cases := map[string]types.OrderStatus{
		"NEW":              types.StatusAccepted,
		"PARTIALLY_FILLED": types.StatusPartial,
		"FILLED":           types.StatusFilled,
		"CANCELED":         types.StatusCancelled,
		"REJECTED":         types.StatusRejected,
	}
	for venue, want := range cases {
		if got := mapStatus(venue); got != want {
			t.Errorf("mapStatus(%q) = %v, want %v", venue, got, want)
		}
	}
}

func TestSubscribeCandlesRejectsUnsupportedTimeframe(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	if _, err := a.SubscribeCandles("BTC-USD", types.TF5s); err == nil {
		t.Fatal("expected error for a timeframe binance has no kline interval for")
	}
}

func TestSubscribeCandlesIsIdempotentPerStream(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	ch1, err := a.SubscribeCandles("BTC-USD", types.TF1m)
	if err != nil {
		t.Fatalf("SubscribeCandles: %v", err)
	}
	ch2, err := a.SubscribeCandles("BTC-USD", types.TF1m)
	if err != nil {
		t.Fatalf("SubscribeCandles second call: %v", err)
	}
	if ch1 != ch2 {
		t.Fatal("a second subscribe to the same stream should return the same channel")
	}
}

func TestHandleKlineDeliversClosedBarToSubscriber(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	ch, err := a.SubscribeCandles("BTC-USD", types.TF1m)
	if err != nil {
		t.Fatalf("SubscribeCandles: %v", err)
	}

	msg := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1000,"i":"1m","o":"100","h":"110","l":"90","c":"105","v":"12.5","x":true}}`)
	a.handleMessage(msg)

	select {
	case c := <-ch:
		if c.TimestampMs != 1000 || c.Open != 100 || c.High != 110 || c.Low != 90 || c.Close != 105 || c.Volume != 12.5 {
			t.Fatalf("candle = %+v, unexpected fields", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candle")
	}
}

func TestHandleKlineDropsUnclosedBar(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	ch, err := a.SubscribeCandles("BTC-USD", types.TF1m)
	if err != nil {
		t.Fatalf("SubscribeCandles: %v", err)
	}

	msg := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1000,"i":"1m","o":"100","h":"110","l":"90","c":"105","v":"12.5","x":false}}`)
	a.handleMessage(msg)

	select {
	case c := <-ch:
		t.Fatalf("unexpected candle for an unclosed bar: %+v", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestGetCandlesReturnsEmptySeriesNotError(t *testing.T) {
	a := New(zap.NewNop(), "", "")
	candles, err := a.GetCandles(context.Background(), "BTC-USD", types.TF1m, 10)
	if err != nil {
		t.Fatalf("GetCandles: %v, want nil error", err)
	}
	if candles != nil {
		t.Fatalf("candles = %v, want nil series", candles)
	}
}

func TestSignDeterministic(t *testing.T) {
	a := New(zap.NewNop(), "key", "secret")
	v := url.Values{}
	v.Set("symbol", "BTCUSDT")

	sig1 := a.sign(v)
	sig2 := a.sign(v)
	if sig1 != sig2 {
		t.Fatalf("sign not deterministic: %q vs %q", sig1, sig2)
	}
	if len(sig1) != 64 {
		t.Fatalf("sign length = %d, want 64 (hex sha256)", len(sig1))
	}
}
