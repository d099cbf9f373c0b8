// Package kraken implements the BrokerAdapter contract for Kraken spot:
// HMAC-SHA512 request signing over Kraken's nonce+path scheme, and REST
// polling for account updates rather than a push feed (Kraken's public WS
// is ticker/book only; private account streams require a separate token
// dance out of scope here).
//
// Grounded on the teacher's internal/execution/adapters/binance.go shape,
// adapted to Kraken's signing and symbol conventions (e.g. XXBTZUSD).
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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
	restBaseURL = "https://api.kraken.com"
	apiVersion  = "0"

	// Kraken's private REST tier-2 budget is roughly 15 req/15s; stay
	// comfortably under it.
	rateLimitPerSecond = 1
	rateLimitBurst     = 5

	accountPollInterval = 3 * time.Second
)

var venueAliases = map[types.Symbol]string{
	"BTC-USD": "XXBTZUSD",
	"ETH-USD": "XETHZUSD",
}

var reverseAliases = func() map[string]types.Symbol {
	m := make(map[string]types.Symbol, len(venueAliases))
	for k, v := range venueAliases {
		m[v] = k
	}
	return m
}()

// Adapter is the Kraken spot BrokerAdapter.
type Adapter struct {
	logger       *zap.Logger
	apiKey       string
	apiSecretRaw string // base64, as issued by Kraken
	client       *http.Client
	limiter      *rate.Limiter

	mu        sync.Mutex
	connected bool
	nonce     int64

	accountCh chan broker.AccountUpdate
	stopPoll  context.CancelFunc
}

// New constructs a Kraken Adapter.
func New(logger *zap.Logger, apiKey, apiSecretBase64 string) *Adapter {
	return &Adapter{
		logger:       logger.Named("broker.kraken"),
		apiKey:       apiKey,
		apiSecretRaw: apiSecretBase64,
		client:       &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(rateLimitPerSecond), rateLimitBurst),
		nonce:        time.Now().UnixNano(),
	}
}

func (a *Adapter) BrokerName() string              { return "kraken" }
func (a *Adapter) AssetType() types.AssetType       { return types.AssetCrypto }
func (a *Adapter) SupportedSymbols() []types.Symbol { return nil }
func (a *Adapter) MinOrderSize(types.Symbol) float64 { return 0.0001 }
func (a *Adapter) Fees() types.Fees                { return types.Fees{Maker: 0.0016, Taker: 0.0026} }
func (a *Adapter) IsTradeableNow() bool            { return true }

func (a *Adapter) ToVenueSymbol(symbol types.Symbol) string {
	if alias, ok := venueAliases[symbol]; ok {
		return alias
	}
	return strings.ReplaceAll(string(symbol), "-", "")
}

func (a *Adapter) FromVenueSymbol(venueSymbol string) types.Symbol {
	if sym, ok := reverseAliases[venueSymbol]; ok {
		return sym
	}
	return types.Symbol(venueSymbol)
}

func (a *Adapter) nextNonce() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nonce++
	return strconv.FormatInt(a.nonce, 10)
}

// sign implements Kraken's API-Sign: HMAC-SHA512(secret, path + SHA256(nonce + postdata)).
func (a *Adapter) sign(path, nonce string, params url.Values) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(a.apiSecretRaw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid kraken api secret: %v", errs.ErrConfig, err)
	}
	postdata := params.Encode()

	sha := sha256.New()
	sha.Write([]byte(nonce + postdata))
	shaSum := sha.Sum(nil)

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(shaSum)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (a *Adapter) privateRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		metrics.RateLimitWaits.WithLabelValues("kraken").Inc()
		return nil, fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
	}

	path := fmt.Sprintf("/%s/private/%s", apiVersion, endpoint)
	nonce := a.nextNonce()
	if params == nil {
		params = url.Values{}
	}
	params.Set("nonce", nonce)

	sig, err := a.sign(path, nonce, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restBaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", a.apiKey)
	req.Header.Set("API-Sign", sig)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: kraken returned 401", errs.ErrAuthentication)
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	if len(envelope.Error) > 0 {
		return nil, fmt.Errorf("%w: kraken error: %s", errs.ErrOrderRejected, strings.Join(envelope.Error, "; "))
	}
	return envelope.Result, nil
}

// Connect starts the account-state polling loop; Kraken's private feed
// needs a WS auth token dance out of scope for this adapter, so account
// state is kept fresh by REST polling instead.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	a.stopPoll = cancel
	a.accountCh = make(chan broker.AccountUpdate, 8)
	a.connected = true
	go a.pollAccount(pollCtx)
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopPoll != nil {
		a.stopPoll()
	}
	a.connected = false
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) pollAccount(ctx context.Context) {
	ticker := time.NewTicker(accountPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balance, err := a.GetBalance(ctx)
			if err != nil {
				a.logger.Warn("kraken account poll failed", zap.Error(err))
				continue
			}
			select {
			case a.accountCh <- broker.AccountUpdate{Balance: balance, TimestampMs: time.Now().UnixMilli()}:
			default:
			}
		}
	}
}

func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	body, err := a.privateRequest(ctx, "Balance", url.Values{})
	if err != nil {
		return 0, err
	}
	var balances map[string]string
	if err := json.Unmarshal(body, &balances); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	if v, ok := balances["ZUSD"]; ok {
		f, _ := strconv.ParseFloat(v, 64)
		return f, nil
	}
	return 0, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]types.Position, error) { return nil, nil }

func (a *Adapter) GetOpenOrders(ctx context.Context) ([]types.OrderResult, error) {
	body, err := a.privateRequest(ctx, "OpenOrders", url.Values{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Open map[string]struct {
			Status      string `json:"status"`
			Descr       struct{ Price string `json:"price"` } `json:"descr"`
			Vol         string `json:"vol"`
			VolExecuted string `json:"vol_exec"`
		} `json:"open"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	out := make([]types.OrderResult, 0, len(parsed.Open))
	for id, o := range parsed.Open {
		vol, _ := strconv.ParseFloat(o.Vol, 64)
		exec, _ := strconv.ParseFloat(o.VolExecuted, 64)
		price, _ := strconv.ParseFloat(o.Descr.Price, 64)
		out = append(out, types.OrderResult{
			OrderID: id, Status: mapStatus(o.Status), Filled: exec, Remaining: vol - exec, AvgPrice: price,
		})
	}
	return out, nil
}

func mapStatus(venueStatus string) types.OrderStatus {
	switch venueStatus {
	case "pending":
		return types.StatusPending
	case "open":
		return types.StatusAccepted
	case "closed":
		return types.StatusFilled
	case "canceled", "expired":
		return types.StatusCancelled
	default:
		return types.StatusRejected
	}
}

func (a *Adapter) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	params := url.Values{}
	params.Set("pair", a.ToVenueSymbol(order.Symbol))
	params.Set("type", strings.ToLower(string(order.Side)))
	params.Set("volume", strconv.FormatFloat(order.Size, 'f', -1, 64))

	switch order.Type {
	case types.OrderMarket:
		params.Set("ordertype", "market")
	case types.OrderLimit:
		params.Set("ordertype", "limit")
		if order.Price != nil {
			params.Set("price", strconv.FormatFloat(*order.Price, 'f', -1, 64))
		}
	default:
		return types.OrderResult{}, fmt.Errorf("%w: kraken adapter only supports MARKET/LIMIT", errs.ErrNotSupported)
	}

	body, err := a.privateRequest(ctx, "AddOrder", params)
	if err != nil {
		return types.OrderResult{}, err
	}
	metrics.OrdersSubmitted.WithLabelValues("kraken", string(order.Side)).Inc()

	var resp struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	id := ""
	if len(resp.TxID) > 0 {
		id = resp.TxID[0]
	}
	return types.OrderResult{OrderID: id, Status: types.StatusAccepted, Remaining: order.Size}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("txid", orderID)
	_, err := a.privateRequest(ctx, "CancelOrder", params)
	return err
}

func (a *Adapter) GetOrderStatus(ctx context.Context, orderID string) (types.OrderResult, error) {
	params := url.Values{}
	params.Set("txid", orderID)
	body, err := a.privateRequest(ctx, "QueryOrders", params)
	if err != nil {
		return types.OrderResult{}, err
	}
	var parsed map[string]struct {
		Status      string `json:"status"`
		Vol         string `json:"vol"`
		VolExecuted string `json:"vol_exec"`
		Price       string `json:"price"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.OrderResult{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	o, ok := parsed[orderID]
	if !ok {
		return types.OrderResult{}, fmt.Errorf("%w: kraken order %s not found", errs.ErrDataShape, orderID)
	}
	vol, _ := strconv.ParseFloat(o.Vol, 64)
	exec, _ := strconv.ParseFloat(o.VolExecuted, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	return types.OrderResult{OrderID: orderID, Status: mapStatus(o.Status), Filled: exec, Remaining: vol - exec, AvgPrice: price}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, orderID string, newPrice, newSize *float64) (types.OrderResult, error) {
	return types.OrderResult{}, fmt.Errorf("%w: kraken adapter does not implement amend, cancel and replace", errs.ErrNotSupported)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol types.Symbol) (broker.Ticker, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return broker.Ticker{}, fmt.Errorf("%w: %v", errs.ErrRateLimited, err)
	}
	resp, err := a.client.Get(fmt.Sprintf("%s/%s/public/Ticker?pair=%s", restBaseURL, apiVersion, a.ToVenueSymbol(symbol)))
	if err != nil {
		return broker.Ticker{}, fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Result map[string]struct {
			Bid [3]string `json:"b"`
			Ask [3]string `json:"a"`
			Last [2]string `json:"c"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return broker.Ticker{}, fmt.Errorf("%w: %v", errs.ErrDataShape, err)
	}
	for _, v := range envelope.Result {
		bid, _ := strconv.ParseFloat(v.Bid[0], 64)
		ask, _ := strconv.ParseFloat(v.Ask[0], 64)
		last, _ := strconv.ParseFloat(v.Last[0], 64)
		return broker.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: last, TimestampMs: time.Now().UnixMilli()}, nil
	}
	return broker.Ticker{}, fmt.Errorf("%w: empty kraken ticker response", errs.ErrDataShape)
}

// GetCandles returns an empty series rather than a synthesized one: OHLC
// backfill is not wired on the kraken adapter (spec §4.5).
func (a *Adapter) GetCandles(ctx context.Context, symbol types.Symbol, tf types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, nil
}

func (a *Adapter) GetOrderBook(ctx context.Context, symbol types.Symbol, depth int) (broker.OrderBook, error) {
	return broker.OrderBook{}, fmt.Errorf("%w: order book not wired on the kraken adapter", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeTicker(symbol types.Symbol) (<-chan broker.Ticker, error) {
	return nil, fmt.Errorf("%w: kraken adapter polls rather than streams", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeCandles(symbol types.Symbol, tf types.Timeframe) (<-chan types.Candle, error) {
	return nil, fmt.Errorf("%w: kraken adapter polls rather than streams", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeOrderBook(symbol types.Symbol) (<-chan broker.OrderBook, error) {
	return nil, fmt.Errorf("%w: kraken adapter polls rather than streams", errs.ErrNotSupported)
}

func (a *Adapter) SubscribeAccount() (<-chan broker.AccountUpdate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accountCh == nil {
		return nil, fmt.Errorf("%w: call Connect before subscribing to account updates", errs.ErrConfig)
	}
	return a.accountCh, nil
}

func (a *Adapter) UnsubscribeAll() {}

var _ broker.Adapter = (*Adapter)(nil)
