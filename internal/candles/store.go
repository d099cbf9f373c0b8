// Package candles implements CandleStore: per-(symbol, timeframe) candle
// series with base-timeframe ingest, derived-timeframe aggregation, a TTL
// read cache and graduated memory cleanup.
//
// Grounded on the teacher's internal/data/store.go (LoadOHLCV/SaveOHLCV,
// in-memory cache with metadata, generateSampleData) for the cache/eviction
// shape, generalized from its disk-backed historical-data cache to a
// live, streaming multi-timeframe series store.
package candles

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/pkg/types"
)

const (
	defaultSeriesCap  = 2000
	floorPerTimeframe = 300

	cacheTTL = 5 * time.Second

	volCheckInterval = 5 * time.Second
	volLookback      = 10
	volThreshold     = 0.05

	candleBytes = 48

	gentleThresholdBytes    = 75 * 1024 * 1024
	moderateThresholdBytes  = 100 * 1024 * 1024
	aggressiveThresholdBytes = 150 * 1024 * 1024

	gentleTrimFraction     = 0.20
	moderateTrimFraction   = 0.35
	aggressiveTrimFraction = 0.50
)

type timeframeSeries struct {
	candles []types.Candle
	cap     int
}

func newTimeframeSeries(cap int) *timeframeSeries {
	return &timeframeSeries{candles: make([]types.Candle, 0, cap), cap: cap}
}

// append adds c to the series. Returns "appended", "replaced" or "rejected"
// depending on c's timestamp relative to the series tail.
func (s *timeframeSeries) append(c types.Candle) string {
	if len(s.candles) == 0 {
		s.candles = append(s.candles, c)
		return "appended"
	}
	last := s.candles[len(s.candles)-1]
	switch {
	case c.TimestampMs > last.TimestampMs:
		s.candles = append(s.candles, c)
		if len(s.candles) > s.cap {
			drop := len(s.candles) - s.cap
			s.candles = s.candles[drop:]
		}
		return "appended"
	case c.TimestampMs == last.TimestampMs:
		s.candles[len(s.candles)-1] = c
		return "replaced"
	default:
		return "rejected"
	}
}

func (s *timeframeSeries) trim(keep int) {
	if keep < floorPerTimeframe {
		keep = floorPerTimeframe
	}
	if len(s.candles) <= keep {
		return
	}
	s.candles = s.candles[len(s.candles)-keep:]
}

type cacheKey struct {
	symbol            types.Symbol
	timeframe         types.Timeframe
	limit             int
	includeIncomplete bool
}

type cacheEntry struct {
	candles []types.Candle
	expiry  time.Time
}

// Store is the CandleStore: a live multi-symbol, multi-timeframe candle
// series cache fed by one base timeframe per symbol.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger

	baseTF     types.Timeframe
	derivedTFs []types.Timeframe

	series map[types.Symbol]map[types.Timeframe]*timeframeSeries

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry

	lastVolCheck map[types.Symbol]time.Time
	invalidations uint64
	drops         uint64
}

// NewStore constructs a Store for baseTF, maintaining the given derived
// timeframes by aggregation from base candles.
func NewStore(logger *zap.Logger, baseTF types.Timeframe, derivedTFs []types.Timeframe) *Store {
	return &Store{
		logger:       logger.Named("candles"),
		baseTF:       baseTF,
		derivedTFs:   derivedTFs,
		series:       make(map[types.Symbol]map[types.Timeframe]*timeframeSeries),
		cache:        make(map[cacheKey]cacheEntry),
		lastVolCheck: make(map[types.Symbol]time.Time),
	}
}

func (st *Store) seriesFor(symbol types.Symbol, tf types.Timeframe) *timeframeSeries {
	bySymbol, ok := st.series[symbol]
	if !ok {
		bySymbol = make(map[types.Timeframe]*timeframeSeries)
		st.series[symbol] = bySymbol
	}
	s, ok := bySymbol[tf]
	if !ok {
		s = newTimeframeSeries(defaultSeriesCap)
		bySymbol[tf] = s
	}
	return s
}

// Ingest appends a base-timeframe candle for symbol, then re-aggregates
// every derived timeframe that candle's close may have completed.
func (st *Store) Ingest(symbol types.Symbol, c types.Candle) {
	if !c.Valid() {
		st.mu.Lock()
		st.drops++
		st.mu.Unlock()
		metrics.CandleDrops.WithLabelValues("invalid").Inc()
		return
	}

	st.mu.Lock()
	base := st.seriesFor(symbol, st.baseTF)
	outcome := base.append(c)
	if outcome == "rejected" {
		st.drops++
		st.mu.Unlock()
		metrics.CandleDrops.WithLabelValues("out_of_order").Inc()
		return
	}
	if outcome == "appended" {
		st.onNewBaseCandle(symbol)
	}
	st.mu.Unlock()

	st.cacheMu.Lock()
	for key := range st.cache {
		if key.symbol == symbol {
			delete(st.cache, key)
		}
	}
	st.cacheMu.Unlock()

	st.invalidateSymbol(symbol)
}

// onNewBaseCandle recomputes every derived timeframe series for symbol from
// the current base series. Caller holds st.mu.
func (st *Store) onNewBaseCandle(symbol types.Symbol) {
	base := st.series[symbol][st.baseTF].candles
	for _, tf := range st.derivedTFs {
		agg := aggregate(base, st.baseTF, tf)
		series := st.seriesFor(symbol, tf)
		series.candles = agg
		if len(series.candles) > series.cap {
			series.candles = series.candles[len(series.candles)-series.cap:]
		}
	}
}

// aggregate buckets base candles (ordered by base interval) into tf-sized
// buckets: open of first, close of last, max high, min low, sum volume.
func aggregate(base []types.Candle, baseTF, tf types.Timeframe) []types.Candle {
	if tf == baseTF || len(base) == 0 {
		out := make([]types.Candle, len(base))
		copy(out, base)
		return out
	}
	bucketMs := tf.IntervalMs()
	if bucketMs <= 0 {
		return nil
	}

	var out []types.Candle
	var cur types.Candle
	haveCur := false
	var curBucket int64

	for _, c := range base {
		bucket := (c.TimestampMs / bucketMs) * bucketMs
		if !haveCur {
			cur = c
			cur.TimestampMs = bucket
			curBucket = bucket
			haveCur = true
			continue
		}
		if bucket == curBucket {
			cur.High = maxF(cur.High, c.High)
			cur.Low = minF(cur.Low, c.Low)
			cur.Close = c.Close
			cur.Volume += c.Volume
		} else {
			out = append(out, cur)
			cur = c
			cur.TimestampMs = bucket
			curBucket = bucket
		}
	}
	if haveCur {
		out = append(out, cur)
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// GetCandles returns up to limit most-recent candles for (symbol, tf),
// including the newest (possibly still-forming) bar, serving from the TTL
// read cache when fresh. Equivalent to Get(symbol, tf, limit, true, true).
func (st *Store) GetCandles(symbol types.Symbol, tf types.Timeframe, limit int) []types.Candle {
	return st.Get(symbol, tf, limit, true, true)
}

// Get is spec §4.3's named get(symbol, tf, limit, includeIncomplete,
// useCache) operation: includeIncomplete controls whether the series' tip
// candle (the bar still being built by in-flight ticks) is part of the
// window, and useCache controls whether the TTL read cache may serve or
// store the result.
func (st *Store) Get(symbol types.Symbol, tf types.Timeframe, limit int, includeIncomplete, useCache bool) []types.Candle {
	key := cacheKey{symbol: symbol, timeframe: tf, limit: limit, includeIncomplete: includeIncomplete}

	if useCache {
		st.cacheMu.Lock()
		if entry, ok := st.cache[key]; ok && time.Now().Before(entry.expiry) {
			st.cacheMu.Unlock()
			return entry.candles
		}
		st.cacheMu.Unlock()
	}

	st.mu.RLock()
	series, ok := st.series[symbol][tf]
	var source []types.Candle
	if ok {
		source = series.candles
		if !includeIncomplete && len(source) > 0 {
			source = source[:len(source)-1]
		}
	}
	n := limit
	if n <= 0 || n > len(source) {
		n = len(source)
	}
	var out []types.Candle
	if n > 0 {
		out = make([]types.Candle, n)
		copy(out, source[len(source)-n:])
	}
	st.mu.RUnlock()

	if useCache {
		st.cacheMu.Lock()
		st.cache[key] = cacheEntry{candles: out, expiry: time.Now().Add(cacheTTL)}
		st.cacheMu.Unlock()
	}

	return out
}

// AddTimeframe registers tf as a derived timeframe maintained for symbol,
// backfilling it immediately by aggregating symbol's existing base series
// (spec §4.3's addTimeframe(symbol, tf); a no-op if tf is already tracked).
func (st *Store) AddTimeframe(symbol types.Symbol, tf types.Timeframe) {
	st.mu.Lock()
	tracked := tf == st.baseTF
	for _, existing := range st.derivedTFs {
		if existing == tf {
			tracked = true
			break
		}
	}
	if !tracked {
		st.derivedTFs = append(st.derivedTFs, tf)
	}
	if base, ok := st.series[symbol][st.baseTF]; ok {
		series := st.seriesFor(symbol, tf)
		series.candles = aggregate(base.candles, st.baseTF, tf)
		if len(series.candles) > series.cap {
			series.candles = series.candles[len(series.candles)-series.cap:]
		}
	}
	st.mu.Unlock()
}

// invalidateSymbol checks the last volLookback base candles' mean absolute
// return against volThreshold; if exceeded, evicts every cache entry for
// this symbol regardless of TTL. Rate-limited to once per volCheckInterval.
func (st *Store) invalidateSymbol(symbol types.Symbol) {
	st.mu.Lock()
	last, checked := st.lastVolCheck[symbol]
	now := time.Now()
	if checked && now.Sub(last) < volCheckInterval {
		st.mu.Unlock()
		return
	}
	st.lastVolCheck[symbol] = now
	base, ok := st.series[symbol][st.baseTF]
	var closes []float64
	if ok {
		n := volLookback + 1
		if n > len(base.candles) {
			n = len(base.candles)
		}
		for _, c := range base.candles[len(base.candles)-n:] {
			closes = append(closes, c.Close)
		}
	}
	st.mu.Unlock()

	if len(closes) < 2 {
		return
	}
	var sumAbsReturn float64
	count := 0
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		ret := (closes[i] - closes[i-1]) / closes[i-1]
		if ret < 0 {
			ret = -ret
		}
		sumAbsReturn += ret
		count++
	}
	if count == 0 {
		return
	}
	meanAbsReturn := sumAbsReturn / float64(count)
	if meanAbsReturn < volThreshold {
		return
	}

	st.cacheMu.Lock()
	for key := range st.cache {
		if key.symbol == symbol {
			delete(st.cache, key)
		}
	}
	st.cacheMu.Unlock()

	st.mu.Lock()
	st.invalidations++
	st.mu.Unlock()

	st.logger.Info("volatility-triggered cache invalidation",
		zap.String("symbol", string(symbol)), zap.Float64("mean_abs_return", meanAbsReturn))
}

// Stats reports the store's running drop/invalidation counters.
type Stats struct {
	Drops         uint64
	Invalidations uint64
}

func (st *Store) Stats() Stats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Stats{Drops: st.drops, Invalidations: st.invalidations}
}

// estimateBytes approximates the store's total memory footprint.
func (st *Store) estimateBytes() int64 {
	var total int64
	for _, bySymbol := range st.series {
		for _, s := range bySymbol {
			total += int64(len(s.candles)) * candleBytes
		}
	}
	return total
}

// cleanup applies graduated trimming once the store's estimated footprint
// crosses the gentle/moderate/aggressive thresholds, never trimming a
// timeframe series below floorPerTimeframe candles.
func (st *Store) cleanup() {
	st.mu.Lock()
	defer st.mu.Unlock()

	usage := st.estimateBytes()
	var fraction float64
	switch {
	case usage >= aggressiveThresholdBytes:
		fraction = aggressiveTrimFraction
	case usage >= moderateThresholdBytes:
		fraction = moderateTrimFraction
	case usage >= gentleThresholdBytes:
		fraction = gentleTrimFraction
	default:
		return
	}

	for _, bySymbol := range st.series {
		for _, s := range bySymbol {
			keep := int(float64(len(s.candles)) * (1 - fraction))
			s.trim(keep)
		}
	}
	st.logger.Info("graduated candle store cleanup", zap.Int64("bytes_before", usage), zap.Float64("trim_fraction", fraction))
}

// Start runs the store's periodic background tasks: volatility re-checks
// are driven inline by Ingest, so Start only drives the memory cleanup
// sweep until ctx is cancelled.
func (st *Store) Start(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.cleanup()
		}
	}
}
