package indicators

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/vertexquant/tradeengine/pkg/types"
)

const maxCacheEntries = 1000

// Snapshot is the full set of indicator readings for one candle window,
// computed once per call to Engine.Compute.
type Snapshot struct {
	RSI        float64
	EMA9       float64
	EMA20      float64
	EMA50      float64
	MACD       MACDResult
	Bollinger  BollingerResult
	ATR        float64
	Volatility float64
	Stochastic StochasticResult
	TwoPole    float64
}

// Engine wraps the stateless kernels with a bounded cache so repeated calls
// against the same trailing window (the common case: one new candle closes,
// the rest of the window is unchanged) skip recomputation. Keyed on an
// FNV-1a digest of the last 50 closes, not the whole window, per spec §4.2.
type Engine struct {
	mu      sync.Mutex
	cache   map[uint64]Snapshot
	order   []uint64
}

// NewEngine constructs an empty, ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{cache: make(map[uint64]Snapshot)}
}

// Compute returns the Snapshot for candles, serving from cache when the
// trailing window digest matches a prior call.
func (e *Engine) Compute(candles []types.Candle) Snapshot {
	key := digest(candles)

	e.mu.Lock()
	if snap, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return snap
	}
	e.mu.Unlock()

	closes := Closes(candles)
	snap := Snapshot{
		RSI:        RSI(closes, 14),
		EMA9:       EMA(closes, 9),
		EMA20:      EMA(closes, 20),
		EMA50:      EMA(closes, 50),
		MACD:       MACD(closes, 12, 26, 9),
		Bollinger:  Bollinger(closes, 20, 2),
		ATR:        ATR(candles, 14),
		Volatility: Volatility(closes, 20),
		Stochastic: Stochastic(candles, 14),
		TwoPole:    TwoPole(closes),
	}

	e.mu.Lock()
	e.put(key, snap)
	e.mu.Unlock()

	return snap
}

// put inserts snap under key, evicting the oldest entry (FIFO, not LRU) once
// the cache exceeds its ceiling.
func (e *Engine) put(key uint64, snap Snapshot) {
	if _, exists := e.cache[key]; exists {
		e.cache[key] = snap
		return
	}
	e.cache[key] = snap
	e.order = append(e.order, key)
	if len(e.order) > maxCacheEntries {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.cache, oldest)
	}
}

// digest hashes the last 50 closes of the window so windows differing only
// in history beyond that tail still share a cache entry.
func digest(candles []types.Candle) uint64 {
	n := 50
	if len(candles) < n {
		n = len(candles)
	}
	window := candles[len(candles)-n:]

	h := fnv.New64a()
	buf := make([]byte, 0, 24)
	for _, c := range window {
		buf = strconv.AppendFloat(buf[:0], c.Close, 'g', -1, 64)
		h.Write(buf)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
