// Package instantex implements the BrokerAdapter contract for an
// instant-conversion venue shaped after Uphold: there is no order book or
// resting limit order, only an immediate quote-then-convert trade. LIMIT
// and STOP orders are rejected at the adapter boundary since the venue has
// no concept of a resting order.
package instantex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vertexquant/tradeengine/internal/broker"
	"github.com/vertexquant/tradeengine/internal/errs"
	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/pkg/types"
)

const (
	restBaseURL        = "https://api.instantex.example"
	rateLimitPerSecond = 3
	rateLimitBurst     = 6
)

// Adapter is the instant-conversion BrokerAdapter.
type Adapter struct {
	logger      *zap.Logger
	bearerToken string
	client      *http.Client
	limiter     *rate.Limiter

	mu        sync.Mutex
	connected bool
}

// New constructs an instantex Adapter authorized with a bearer token.
func New(logger *zap.Logger, bearerToken string) *Adapter {
	return &Adapter{
		logger:      logger.Named("broker.instantex"),
		bearerToken: bearerToken,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst),
	}
}

func (a *Adapter) BrokerName() string              { return "instantex" }
func (a *Adapter) AssetType() types.AssetType       { return types.AssetCrypto }
func (a *Adapter) SupportedSymbols() []types.Symbol { return nil }
func (a *Adapter) MinOrderSize(types.Symbol) float64 { return 0.001 }
func (a *Adapter) Fees() types.Fees                { return types.Fees{Maker: 0, Taker: 0.0025} }
func (a *Adapter) IsTradeableNow() bool            { return true }

func (a *Adapter) ToVenueSymbol(symbol types.Symbol) string {
	parts := strings.SplitN(string(symbol), "-", 2)
	if len(parts) != 2 {
		return string(symbol)
	}
	return parts[0] + "-" + parts[1]
}

func (a *Adapter) FromVenueSymbol(venueSymbol string) types.Symbol { return types.Symbol(venueSymbol) }

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

func (a *Adapter) request(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		metrics.RateLimitWaits.WithLabelValues("instantex").Inc()
		return nil, fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, restBaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: instantex returned 401", errs.ErrAuthentication)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: instantex returned 429", errs.ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: instantex returned %d: %s", errs.ErrOrderRejected, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	body, err := a.request(ctx, http.MethodGet, "/v0/me/cards", nil)
	if err != nil {
		return 0, err
	}
	var cards []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	}
	if err := json.Unmarshal(body, &cards); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	for _, c := range cards {
		if c.Currency == "USD" {
			f, _ := strconv.ParseFloat(c.Balance, 64)
			return f, nil
		}
	}
	return 0, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }
func (a *Adapter) GetOpenOrders(ctx context.Context) ([]types.OrderResult, error) {
	// Instant conversions settle synchronously; there is never a resting order.
	return nil, nil
}

// PlaceOrder only accepts MARKET orders: instantex has no resting order
// book for a LIMIT/STOP to rest on.
func (a *Adapter) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	if order.Type != types.OrderMarket {
		return types.OrderResult{}, fmt.Errorf("%w: instantex only supports MARKET orders", errs.ErrNotSupported)
	}

	payload, _ := json.Marshal(map[string]any{
		"denomination": map[string]any{
			"amount":   strconv.FormatFloat(order.Size, 'f', -1, 64),
			"currency": a.ToVenueSymbol(order.Symbol),
		},
	})
	body, err := a.request(ctx, http.MethodPost, "/v0/me/transactions", strings.NewReader(string(payload)))
	if err != nil {
		return types.OrderResult{}, err
	}
	metrics.OrdersSubmitted.WithLabelValues("instantex", string(order.Side)).Inc()

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Origin struct {
			Amount string `json:"amount"`
			Rate   string `json:"rate"`
		} `json:"origin"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	amount, _ := strconv.ParseFloat(resp.Origin.Amount, 64)
	rate, _ := strconv.ParseFloat(resp.Origin.Rate, 64)

	status := types.StatusFilled
	if resp.Status != "completed" {
		status = types.StatusPending
	}
	return types.OrderResult{OrderID: resp.ID, Status: status, Filled: amount, AvgPrice: rate}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return fmt.Errorf("%w: instant conversions settle synchronously and cannot be cancelled", errs.ErrNotSupported)
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error) {
	body, err := a.request(ctx, http.MethodGet, "/v0/me/transactions/"+orderID, nil)
	if err != nil {
		return types.OrderResult{}, err
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Origin struct {
			Amount string `json:"amount"`
			Rate   string `json:"rate"`
		} `json:"origin"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	amount, _ := strconv.ParseFloat(resp.Origin.Amount, 64)
	rate, _ := strconv.ParseFloat(resp.Origin.Rate, 64)
	status := types.StatusFilled
	if resp.Status != "completed" {
		status = types.StatusPending
	}
	return types.OrderResult{OrderID: resp.ID, Status: status, Filled: amount, AvgPrice: rate}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, orderID string, newPrice, newSize *float64) (types.OrderResult, error) {
	return types.OrderResult{}, fmt.Errorf("%w: instant conversions cannot be amended", errs.ErrNotSupported)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol types.Symbol) (broker.Ticker, error) {
	body, err := a.request(ctx, http.MethodGet, "/v0/ticker/"+a.ToVenueSymbol(symbol), nil)
	if err != nil {
		return broker.Ticker{}, err
	}
	var resp struct {
		Ask string `json:"ask"`
		Bid string `json:"bid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return broker.Ticker{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	ask, _ := strconv.ParseFloat(resp.Ask, 64)
	bid, _ := strconv.ParseFloat(resp.Bid, 64)
	return broker.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: (bid + ask) / 2, TimestampMs: time.Now().UnixMilli()}, nil
}

func (a *Adapter) GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, fmt.Errorf("%w: instantex has no historical candle endpoint", errs.ErrNotSupported)
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (broker.OrderBook, error) {
	return broker.OrderBook{}, fmt.Errorf("%w: instantex has no order book, quotes are instant", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeTicker(symbol types.Symbol) (<-chan broker.Ticker, error) {
	return nil, fmt.Errorf("%w: instantex has no streaming API", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeCandles(symbol types.Symbol, tf types.Timeframe) (<-chan types.Candle, error) {
	return nil, fmt.Errorf("%w: instantex has no streaming API", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeOrderBook(symbol types.Symbol) (<-chan broker.OrderBook, error) {
	return nil, fmt.Errorf("%w: instantex has no streaming API", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeAccount() (<-chan broker.AccountUpdate, error) {
	return nil, fmt.Errorf("%w: instantex has no streaming API", errs.ErrNotSupported)
}

func (a *Adapter) UnsubscribeAll() {}

var _ broker.Adapter = (*Adapter)(nil)
