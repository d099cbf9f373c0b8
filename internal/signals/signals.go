// Package signals implements the SignalEngine: a voting-rule aggregator
// over an indicator bundle plus pattern-history statistics, producing a
// direction/confidence/reasons decision and a pattern-quality score.
//
// Grounded on the teacher's internal/execution/risk_manager.go for the
// violation/event recording shape (reused here for decision telemetry)
// and spec §4.7's exact voting table and scoring formulas.
package signals

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/flags"
	"github.com/vertexquant/tradeengine/internal/indicators"
	"github.com/vertexquant/tradeengine/pkg/utils"
)

// Direction is the SignalEngine's recommended trade direction.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

const (
	rsiOversold   = 30
	rsiOverbought = 70
	volumeK       = 1.5
	twoPoleThresh = 0.5
)

// telemetryVersion tags the decision telemetry schema's shape, bumped
// whenever a field is added or renamed, so downstream JSONL readers can
// branch on it.
const telemetryVersion = "1.0.0"

// PatternStats is the pattern-history store's per-pattern aggregate.
type PatternStats struct {
	Uses     int
	Wins     int
	Losses   int
	TotalPnL float64
	AvgPnL   float64
}

// PatternStore answers pattern-quality lookups by pattern id.
type PatternStore interface {
	GetStats(patternID string) PatternStats
}

// Decision is the SignalEngine's output for one evaluation.
type Decision struct {
	DecisionID     string
	Direction      Direction
	Confidence     float64
	Reasons        []string
	PatternQuality float64
}

// Input bundles the per-tick data the voting rules consume.
type Input struct {
	Symbol     string
	Timeframe  string
	Price      float64
	Volume     float64
	VolumeMA   float64
	Snapshot   indicators.Snapshot
	PatternIDs []string
	RiskFlags  []string
}

// Engine is the SignalEngine.
type Engine struct {
	logger        *zap.Logger
	flags         *flags.Manager
	telemetryPath string
	mode          string
	adapterID     string

	mu sync.Mutex
}

// New constructs an Engine. telemetryPath, if non-empty, receives one
// append-only JSON line per decision. adapterID identifies the broker
// adapter the decision was evaluated against, recorded in telemetry meta.
func New(logger *zap.Logger, flagMgr *flags.Manager, telemetryPath, mode, adapterID string) *Engine {
	return &Engine{
		logger:        logger.Named("signals"),
		flags:         flagMgr,
		telemetryPath: telemetryPath,
		mode:          mode,
		adapterID:     adapterID,
	}
}

// Evaluate runs the voting table against in, consulting store for pattern
// quality, and records telemetry for the decision.
func (e *Engine) Evaluate(in Input, store PatternStore) Decision {
	var longVotes, shortVotes int
	var confidence float64
	var reasons []string

	snap := in.Snapshot

	if snap.RSI < rsiOversold {
		longVotes++
		confidence += 15
		reasons = append(reasons, "rsi_oversold")
	}
	if snap.RSI > rsiOverbought {
		shortVotes++
		confidence += 15
		reasons = append(reasons, "rsi_overbought")
	}

	if snap.MACD.Histogram > 0 {
		longVotes++
		confidence += 12
		reasons = append(reasons, "macd_positive")
	} else if snap.MACD.Histogram < 0 {
		shortVotes++
		confidence += 12
		reasons = append(reasons, "macd_negative")
	}

	if e.flags.IsEnabled("ADVANCED_INDICATORS") {
		if snap.EMA9 > snap.EMA20 && snap.EMA20 > snap.EMA50 {
			longVotes++
			confidence += 18
			reasons = append(reasons, "ema_stack_bullish")
		} else if snap.EMA9 < snap.EMA20 && snap.EMA20 < snap.EMA50 {
			shortVotes++
			confidence += 18
			reasons = append(reasons, "ema_stack_bearish")
		}
	}

	if in.Price <= snap.Bollinger.Lower {
		longVotes++
		confidence += 10
		reasons = append(reasons, "bollinger_lower_touch")
	}
	if in.Price >= snap.Bollinger.Upper {
		shortVotes++
		confidence += 10
		reasons = append(reasons, "bollinger_upper_touch")
	}

	if e.flags.IsEnabled("ML_ENHANCED_SIGNALS") {
		if snap.TwoPole > twoPoleThresh {
			longVotes++
			confidence += 15
			reasons = append(reasons, "two_pole_bullish")
		} else if snap.TwoPole < -twoPoleThresh {
			shortVotes++
			confidence += 15
			reasons = append(reasons, "two_pole_bearish")
		}
	}

	if e.flags.IsEnabled("ML_VOLUME_ANALYSIS") && in.VolumeMA > 0 && in.Volume > volumeK*in.VolumeMA {
		confidence += 10
		reasons = append(reasons, "volume_surge")
	}

	direction := Hold
	switch {
	case longVotes > shortVotes:
		direction = Buy
	case shortVotes > longVotes:
		direction = Sell
	}

	if confidence > 100 {
		confidence = 100
	}

	quality := patternQuality(in.PatternIDs, store)

	decision := Decision{
		DecisionID:     utils.GenerateDecisionID(),
		Direction:      direction,
		Confidence:     confidence,
		Reasons:        reasons,
		PatternQuality: quality,
	}

	e.writeTelemetry(in, decision)
	return decision
}

// patternQuality averages 0.7*(2*winRate-1) + 0.3*tanh(avgPnL/100) across
// patterns with >= 5 uses; patterns below that contribute 0.
func patternQuality(patternIDs []string, store PatternStore) float64 {
	if store == nil || len(patternIDs) == 0 {
		return 0
	}
	var sum float64
	for _, id := range patternIDs {
		stats := store.GetStats(id)
		if stats.Uses < 5 {
			continue
		}
		winRate := float64(stats.Wins) / float64(stats.Uses)
		sum += 0.7*(2*winRate-1) + 0.3*math.Tanh(stats.AvgPnL/100)
	}
	return sum / float64(len(patternIDs))
}

// SizeMultiplier is the PATTERN_BASED_SIZING staircase over quality q.
func (e *Engine) SizeMultiplier(quality float64) float64 {
	if !e.flags.IsEnabled("PATTERN_BASED_SIZING") {
		return 1.0
	}
	switch {
	case quality <= -0.5:
		return 0.25
	case quality <= 0:
		return 0.5
	case quality <= 0.5:
		return 1.0
	default:
		return 1.5
	}
}

// telemetryInput is the decision telemetry's "input" object, spec §6.
type telemetryInput struct {
	Symbol             string              `json:"symbol"`
	Timeframe          string              `json:"timeframe"`
	Action             Direction           `json:"action"`
	OriginalConfidence float64             `json:"originalConfidence"`
	Indicators         indicators.Snapshot `json:"indicators"`
	PatternIDs         []string            `json:"patternIds"`
	RiskFlags          []string            `json:"riskFlags"`
}

// telemetryOutput is the decision telemetry's "output" object, spec §6.
type telemetryOutput struct {
	Decision       Direction `json:"decision"`
	Confidence     float64   `json:"confidence"`
	ReasonSummary  string    `json:"reasonSummary"`
	PatternQuality float64   `json:"patternQuality"`
}

// telemetryMeta is the decision telemetry's "meta" object, spec §6.
type telemetryMeta struct {
	Version   string `json:"version"`
	AdapterID string `json:"adapterId"`
	Mode      string `json:"mode"`
	Module    string `json:"module"`
}

type telemetryLine struct {
	Type       string          `json:"type"`
	TsMs       int64           `json:"tsMs"`
	DecisionID string          `json:"decisionId"`
	Input      telemetryInput  `json:"input"`
	Output     telemetryOutput `json:"output"`
	Meta       telemetryMeta   `json:"meta"`
}

func (e *Engine) writeTelemetry(in Input, decision Decision) {
	if e.telemetryPath == "" {
		return
	}
	line := telemetryLine{
		Type:       "decision",
		TsMs:       time.Now().UnixMilli(),
		DecisionID: decision.DecisionID,
		Input: telemetryInput{
			Symbol: in.Symbol, Timeframe: in.Timeframe, Action: decision.Direction,
			OriginalConfidence: decision.Confidence, Indicators: in.Snapshot,
			PatternIDs: in.PatternIDs, RiskFlags: in.RiskFlags,
		},
		Output: telemetryOutput{
			Decision: decision.Direction, Confidence: decision.Confidence,
			ReasonSummary: strings.Join(decision.Reasons, ","), PatternQuality: decision.PatternQuality,
		},
		Meta: telemetryMeta{
			Version: telemetryVersion, AdapterID: e.adapterID, Mode: e.mode, Module: "signals",
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		e.logger.Warn("failed to marshal signal telemetry", zap.Error(err))
		return
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := os.OpenFile(e.telemetryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.logger.Warn("failed to open signal telemetry file", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		e.logger.Warn("failed to write signal telemetry", zap.Error(err))
	}
}
