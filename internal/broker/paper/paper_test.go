package paper

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/pkg/types"
)

func TestPlaceOrderFillsAtMarkPrice(t *testing.T) {
	a := New(zap.NewNop(), types.AssetCrypto, 10000)
	a.SetLastPrice("BTC-USD", 100)

	result, err := a.PlaceOrder(context.Background(), types.Order{Symbol: "BTC-USD", Side: types.Buy, Type: types.OrderMarket, Size: 2})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != types.StatusFilled || result.AvgPrice != 100 {
		t.Fatalf("result = %+v", result)
	}

	balance, _ := a.GetBalance(context.Background())
	if !types.FloatEqual(balance, 9800) {
		t.Fatalf("balance = %v, want 9800", balance)
	}

	positions, _ := a.GetPositions(context.Background())
	if len(positions) != 1 || !types.FloatEqual(positions[0].SizeBase, 2) {
		t.Fatalf("positions = %+v", positions)
	}
}

func TestPlaceOrderWithoutMarkPriceErrors(t *testing.T) {
	a := New(zap.NewNop(), types.AssetCrypto, 10000)
	_, err := a.PlaceOrder(context.Background(), types.Order{Symbol: "ETH-USD", Side: types.Buy, Type: types.OrderMarket, Size: 1})
	if err == nil {
		t.Fatal("expected error with no mark price set")
	}
}
