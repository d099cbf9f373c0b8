// Package paper implements a BrokerAdapter for the paper/test run modes:
// orders fill instantly against the last known ticker price, with no
// network calls at all. Grounded on the teacher's generateSampleData
// pattern in internal/data/store.go, generalized from canned historical
// bars into a live simulated fill engine.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker"
	"github.com/vertexquant/tradeengine/pkg/types"
	"github.com/vertexquant/tradeengine/pkg/utils"
)

// Adapter is the paper-trading simulation adapter.
type Adapter struct {
	logger *zap.Logger
	asset  types.AssetType
	fees   types.Fees

	mu        sync.Mutex
	connected bool
	balance   float64
	positions map[types.Symbol]types.Position
	orders    map[string]types.OrderResult
	lastPrice map[types.Symbol]float64
}

// New constructs a paper Adapter seeded with startingBalance.
func New(logger *zap.Logger, asset types.AssetType, startingBalance float64) *Adapter {
	return &Adapter{
		logger:    logger.Named("broker.paper"),
		asset:     asset,
		fees:      types.Fees{Maker: 0, Taker: 0},
		balance:   startingBalance,
		positions: make(map[types.Symbol]types.Position),
		orders:    make(map[string]types.OrderResult),
		lastPrice: make(map[types.Symbol]float64),
	}
}

// SetLastPrice feeds the adapter a mark price for symbol, used as the fill
// price for subsequent market orders and as the GetTicker response.
func (a *Adapter) SetLastPrice(symbol types.Symbol, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPrice[symbol] = price
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) BrokerName() string           { return "paper" }
func (a *Adapter) AssetType() types.AssetType    { return a.asset }
func (a *Adapter) SupportedSymbols() []types.Symbol { return nil }
func (a *Adapter) MinOrderSize(types.Symbol) float64 { return 0 }
func (a *Adapter) Fees() types.Fees             { return a.fees }
func (a *Adapter) IsTradeableNow() bool         { return true }

func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context) ([]types.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.OrderResult, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	return out, nil
}

// PlaceOrder fills immediately at the last known mark price for MARKET
// orders, or at the requested price for LIMIT orders (paper mode assumes
// the limit is marketable).
func (a *Adapter) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	price := a.lastPrice[order.Symbol]
	if order.Type != types.OrderMarket && order.Price != nil {
		price = *order.Price
	}
	if price <= 0 {
		return types.OrderResult{}, fmt.Errorf("paper: no mark price known for %s", order.Symbol)
	}

	id := utils.GenerateOrderID()
	result := types.OrderResult{
		OrderID: id, Status: types.StatusFilled,
		Filled: order.Size, Remaining: 0, AvgPrice: price,
	}
	a.orders[id] = result

	pos := a.positions[order.Symbol]
	if order.Side == types.Buy {
		notional := pos.SizeBase*pos.EntryPrice + order.Size*price
		pos.SizeBase += order.Size
		if pos.SizeBase > 0 {
			pos.EntryPrice = notional / pos.SizeBase
		}
		a.balance -= order.Size * price
	} else {
		pos.SizeBase -= order.Size
		a.balance += order.Size * price
	}
	pos.Symbol = order.Symbol
	a.positions[order.Symbol] = pos

	a.logger.Debug("paper order filled", zap.String("symbol", string(order.Symbol)), zap.Float64("price", price))
	return result, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.orders, orderID)
	return nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return types.OrderResult{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	return o, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, orderID string, newPrice, newSize *float64) (types.OrderResult, error) {
	return a.GetOrderStatus(ctx, orderID)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol types.Symbol) (broker.Ticker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	price := a.lastPrice[symbol]
	return broker.Ticker{Symbol: symbol, Bid: price, Ask: price, Last: price, TimestampMs: time.Now().UnixMilli()}, nil
}

func (a *Adapter) GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (broker.OrderBook, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	price := a.lastPrice[symbol]
	return broker.OrderBook{
		Symbol:      symbol,
		Bids:        []broker.PriceLevel{{Price: price, Size: 1}},
		Asks:        []broker.PriceLevel{{Price: price, Size: 1}},
		TimestampMs: time.Now().UnixMilli(),
	}, nil
}

func (a *Adapter) SubscribeTicker(symbol types.Symbol) (<-chan broker.Ticker, error) {
	ch := make(chan broker.Ticker)
	close(ch)
	return ch, nil
}

func (a *Adapter) SubscribeCandles(symbol types.Symbol, tf types.Timeframe) (<-chan types.Candle, error) {
	ch := make(chan types.Candle)
	close(ch)
	return ch, nil
}

func (a *Adapter) SubscribeOrderBook(symbol types.Symbol) (<-chan broker.OrderBook, error) {
	ch := make(chan broker.OrderBook)
	close(ch)
	return ch, nil
}

func (a *Adapter) SubscribeAccount() (<-chan broker.AccountUpdate, error) {
	ch := make(chan broker.AccountUpdate)
	close(ch)
	return ch, nil
}

func (a *Adapter) UnsubscribeAll() {}

func (a *Adapter) ToVenueSymbol(symbol types.Symbol) string   { return string(symbol) }
func (a *Adapter) FromVenueSymbol(venueSymbol string) types.Symbol { return types.Symbol(venueSymbol) }

var _ broker.Adapter = (*Adapter)(nil)
