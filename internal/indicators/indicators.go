// Package indicators implements the stateless numeric kernels of the
// IndicatorEngine (spec §4.2): RSI, EMA, MACD, Bollinger, ATR, Volatility,
// Stochastic and a bounded Two-Pole oscillator, plus a bounded cache keyed
// on a digest of the input closes.
//
// Grounded on the teacher's hand-rolled RSI/SMA/ZScore in other pack repos
// (chidi150c/coinbase's indicators.go) for the Wilder-smoothing shape; math
// is the right tool here (pure numeric kernels over a float64 slice), so no
// third-party dependency is wired — see DESIGN.md.
package indicators

import (
	"math"

	"github.com/vertexquant/tradeengine/pkg/types"
)

// Closes extracts the close prices of a candle slice, oldest first.
func Closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// emaSeries returns the n-period EMA aligned to closes, oldest first.
// Seeded with the oldest close in the window per spec §4.2.
func emaSeries(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 || n <= 0 {
		return out
	}
	mult := 2.0 / float64(n+1)
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = (closes[i]-out[i-1])*mult + out[i-1]
	}
	return out
}

// EMA returns the n-period EMA of closes, newest-last.
func EMA(closes []float64, n int) float64 {
	series := emaSeries(closes, n)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// RSI is the classic Wilder n-period relative strength index.
func RSI(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < 2 {
		return 50
	}
	if len(closes) < n+1 {
		n = len(closes) - 1
	}
	window := closes[len(closes)-n-1:]

	var gain, loss, absSum float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		absSum += math.Abs(d)
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}

	price := closes[len(closes)-1]
	if price > 0 && absSum < price*0.0001 {
		return 50 // flat data guard: divide-by-zero / spurious-extreme guard
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult is the output of MACD: macd, signal and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the 12/26 MACD line and its 9-period signal line over the
// full closes window. The window should carry at least slow+signal candles
// so the signal line is derived from the actual macd series rather than
// re-seeded on a short window (spec §4.2).
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if len(closes) == 0 {
		return MACDResult{}
	}
	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)

	macdSeries := make([]float64, len(closes))
	for i := range closes {
		macdSeries[i] = fastSeries[i] - slowSeries[i]
	}

	// Only the tail starting once the slow EMA has a full window is a
	// meaningful macd series; still compute from index 0 for stability but
	// signal over the series once slow-1 warmup has elapsed.
	start := slow - 1
	if start < 0 || start >= len(macdSeries) {
		start = 0
	}
	signalSeries := emaSeries(macdSeries[start:], signal)

	macd := macdSeries[len(macdSeries)-1]
	var sig float64
	if len(signalSeries) > 0 {
		sig = signalSeries[len(signalSeries)-1]
	}
	return MACDResult{MACD: macd, Signal: sig, Histogram: macd - sig}
}

// BollingerResult is the output of Bollinger: middle/upper/lower bands and
// their relative width.
type BollingerResult struct {
	Middle float64
	Upper  float64
	Lower  float64
	Width  float64
}

// Bollinger computes n-period Bollinger Bands with a k standard-deviation
// envelope over the population stddev of the same window.
func Bollinger(closes []float64, n int, k float64) BollingerResult {
	if n <= 0 || len(closes) == 0 {
		return BollingerResult{}
	}
	if len(closes) < n {
		n = len(closes)
	}
	window := closes[len(closes)-n:]

	mean := sum(window) / float64(len(window))
	sigma := popStdDev(window, mean)

	upper := mean + k*sigma
	lower := mean - k*sigma
	width := 0.0
	if mean != 0 {
		width = (upper - lower) / mean
	}
	return BollingerResult{Middle: mean, Upper: upper, Lower: lower, Width: width}
}

// ATR is the n-period average true range, returned as a fraction of the
// latest close. Series shorter than n+1 return the 2% default (spec §8).
func ATR(candles []types.Candle, n int) float64 {
	if n <= 0 || len(candles) < n+1 {
		return 0.02
	}
	trs := make([]float64, 0, n)
	for i := len(candles) - n; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		trs = append(trs, tr)
	}
	meanTR := sum(trs) / float64(len(trs))
	last := candles[len(candles)-1].Close
	if last == 0 {
		return 0.02
	}
	return meanTR / last
}

// Volatility is the n-period stddev of simple returns, as a fraction.
func Volatility(closes []float64, n int) float64 {
	if n <= 0 || len(closes) < 2 {
		return 0
	}
	if len(closes) < n+1 {
		n = len(closes) - 1
	}
	window := closes[len(closes)-n-1:]
	returns := make([]float64, 0, n)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	mean := sum(returns) / float64(len(returns))
	return sampleStdDev(returns, mean)
}

// StochasticResult is the output of Stochastic: %K and its 3-period %D.
type StochasticResult struct {
	K float64
	D float64
}

// Stochastic computes the n-period %K/%D oscillator. A zero range (flat
// window) returns 50 for both per spec §8.
func Stochastic(candles []types.Candle, n int) StochasticResult {
	if n <= 0 || len(candles) == 0 {
		return StochasticResult{K: 50, D: 50}
	}
	kValues := make([]float64, 0, 3)
	for back := 0; back < 3; back++ {
		end := len(candles) - back
		if end <= 0 {
			break
		}
		start := end - n
		if start < 0 {
			start = 0
		}
		window := candles[start:end]
		lo, hi := window[0].Low, window[0].High
		for _, c := range window {
			lo = math.Min(lo, c.Low)
			hi = math.Max(hi, c.High)
		}
		close := window[len(window)-1].Close
		if hi-lo == 0 {
			kValues = append(kValues, 50)
		} else {
			kValues = append(kValues, (close-lo)/(hi-lo)*100)
		}
	}
	k := kValues[0]
	d := sum(kValues) / float64(len(kValues))
	return StochasticResult{K: k, D: d}
}

// twoPoleA/twoPoleB1 approximate a two-pole IIR low-pass filter over the
// detrended close series. Exact coefficients are an open question in the
// spec (§9); chosen here for a stable, bounded, normalized response — see
// DESIGN.md.
const (
	smaLen      = 25
	filterLen   = 20
	twoPoleA    = 0.15
	twoPoleB1   = 1.85
	twoPoleClip = 1.0
)

// TwoPole computes a bounded [-1, 1] oscillator from a running SMA(25)
// combined with a two-pole IIR filter(20), per spec §4.2.
func TwoPole(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	n := smaLen
	if len(closes) < n {
		n = len(closes)
	}
	window := closes[len(closes)-n:]
	mean := sum(window) / float64(len(window))
	sigma := popStdDev(window, mean)
	if sigma == 0 {
		return 0
	}

	fn := filterLen
	if len(closes) < fn {
		fn = len(closes)
	}
	filterWindow := closes[len(closes)-fn:]

	var f1, f2 float64
	for _, c := range filterWindow {
		norm := clamp((c-mean)/(sigma*3), -1, 1)
		f1 = twoPoleA*norm + (1-twoPoleA)*f1
		f2 = twoPoleA*f1 + (1-twoPoleA)*f2
	}
	return clamp(f2*twoPoleB1, -twoPoleClip, twoPoleClip)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func popStdDev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func sampleStdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
