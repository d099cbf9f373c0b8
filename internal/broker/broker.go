// Package broker defines the BrokerAdapter contract every venue
// implementation satisfies, plus the shared market-data shapes adapters
// hand back to the orchestrator.
//
// Grounded on the teacher's internal/execution/adapters/binance.go, which
// already shaped a per-venue adapter around REST + WebSocket + a rate
// limiter; this package extracts that shape into an explicit interface so
// the orchestrator and signal engine depend on venue behavior, not a venue.
package broker

import (
	"context"

	"github.com/vertexquant/tradeengine/pkg/types"
)

// Ticker is a venue's best bid/ask/last snapshot.
type Ticker struct {
	Symbol      types.Symbol
	Bid         float64
	Ask         float64
	Last        float64
	TimestampMs int64
}

// PriceLevel is one row of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a venue's order book snapshot, best level first.
type OrderBook struct {
	Symbol      types.Symbol
	Bids        []PriceLevel
	Asks        []PriceLevel
	TimestampMs int64
}

// AccountUpdate is a venue-pushed balance/position change.
type AccountUpdate struct {
	Balance     float64
	Positions   []types.Position
	TimestampMs int64
}

// Adapter is the BrokerAdapter contract (spec §4.5): every venue
// implementation connects over REST + streaming, normalizes its own
// symbol/size conventions, and exposes a uniform order lifecycle.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	BrokerName() string
	AssetType() types.AssetType
	SupportedSymbols() []types.Symbol
	MinOrderSize(symbol types.Symbol) float64
	Fees() types.Fees
	IsTradeableNow() bool

	GetBalance(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetOpenOrders(ctx context.Context) ([]types.OrderResult, error)

	PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error)
	ModifyOrder(ctx context.Context, orderID string, newPrice, newSize *float64) (types.OrderResult, error)

	GetTicker(ctx context.Context, symbol types.Symbol) (Ticker, error)
	GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error)
	GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (OrderBook, error)

	SubscribeTicker(symbol types.Symbol) (<-chan Ticker, error)
	SubscribeCandles(symbol types.Symbol, tf types.Timeframe) (<-chan types.Candle, error)
	SubscribeOrderBook(symbol types.Symbol) (<-chan OrderBook, error)
	SubscribeAccount() (<-chan AccountUpdate, error)
	UnsubscribeAll()

	ToVenueSymbol(symbol types.Symbol) string
	FromVenueSymbol(venueSymbol string) types.Symbol
}
