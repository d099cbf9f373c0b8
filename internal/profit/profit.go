// Package profit implements ProfitManager: a pure per-position state
// machine fed by price updates that returns exit/update directives to the
// Orchestrator. It never places an order itself.
//
// Grounded on the teacher's internal/execution/risk_manager.go for the
// severity/violation-style directive shape (CheckOrder returns a result
// the caller acts on, never executing a trade itself) and spec §4.8's
// exact tier/trailing/breakeven numeric rules.
package profit

import (
	"github.com/vertexquant/tradeengine/pkg/types"
)

// Action is one of the directives the Orchestrator acts on.
type Action string

const (
	ActionHold        Action = "hold"
	ActionUpdate      Action = "update"
	ActionExitPartial Action = "exit_partial"
	ActionExitFull    Action = "exit_full"
)

// Directive is the ProfitManager's per-tick output.
type Directive struct {
	Action   Action
	Reason   string
	Size     *float64
	Stop     *float64
	Tier     *int
	Realized float64 // this directive's own realized PnL, not cumulative
}

// Config holds the tunables spec §4.8 names with their documented
// defaults.
type Config struct {
	StopLossPct                float64
	TierTargetPcts             []float64
	TierExitFractions          []float64
	MinProfit                  float64 // default 0.003
	BreakevenThreshold         float64 // default 0.002
	TrailDist                  float64
	FeeBuffer                  float64
	MaxHoldMinutes             float64 // default 180
	EnableTimeBasedAdjustments bool
	MinHoldMinutes             float64 // default 0.05
}

// DefaultConfig returns spec §4.8's documented default tunables with a
// conservative three-tier exit ladder (1%/2%/4%).
func DefaultConfig() Config {
	return Config{
		StopLossPct:                0.02,
		TierTargetPcts:             []float64{0.01, 0.02, 0.04},
		TierExitFractions:          []float64{0.3, 0.3, 0.4},
		MinProfit:                  0.003,
		BreakevenThreshold:         0.002,
		TrailDist:                  0.01,
		FeeBuffer:                  0.001,
		MaxHoldMinutes:             180,
		EnableTimeBasedAdjustments: true,
		MinHoldMinutes:             0.05,
	}
}

// lifecycle tracks the highest state reached; states only escalate (Open
// -> TrailingArmed -> BreakevenArmed), tier/stop/time exits can fire from
// any of them.
type lifecycle string

const (
	lifecycleOpen           lifecycle = "open"
	lifecycleTrailingArmed  lifecycle = "trailing_armed"
	lifecycleBreakevenArmed lifecycle = "breakeven_armed"
	lifecycleClosed         lifecycle = "closed"
)

type volMultiplier struct {
	stop, target, trail float64
}

func classifyVolatility(vol20 float64) volMultiplier {
	switch {
	case vol20 >= 0.02:
		return volMultiplier{stop: 1.5, target: 1.4, trail: 1.3}
	case vol20 < 0.005:
		return volMultiplier{stop: 0.7, target: 0.8, trail: 0.7}
	default:
		return volMultiplier{stop: 1, target: 1, trail: 1}
	}
}

// Manager is one position's ProfitManager instance.
type Manager struct {
	symbol      types.Symbol
	side        types.OrderSide
	entryPrice  float64
	originalSize float64
	entryTimeMs int64

	config Config

	volFactor, marketMult, confidenceMult float64

	state lifecycle

	highWater, lowWater float64
	currentStop, initialStop float64
	tiers          []types.Tier
	completedTiers []types.CompletedTier
	realizedPnL    float64
}

// New constructs a Manager for a freshly opened position, computing the
// initial stop and tier ladder per spec §4.8.
func New(symbol types.Symbol, side types.OrderSide, entryPrice, size float64, entryTimeMs int64, config Config, volFactor, marketMult, confidenceMult float64) *Manager {
	m := &Manager{
		symbol: symbol, side: side, entryPrice: entryPrice, originalSize: size,
		entryTimeMs: entryTimeMs, config: config,
		volFactor: volFactor, marketMult: marketMult, confidenceMult: confidenceMult,
		state: lifecycleOpen, highWater: entryPrice, lowWater: entryPrice,
	}

	if m.isLong() {
		m.initialStop = entryPrice * (1 - config.StopLossPct*volFactor)
	} else {
		m.initialStop = entryPrice * (1 + config.StopLossPct*volFactor)
	}
	m.currentStop = m.initialStop

	for i, basePct := range config.TierTargetPcts {
		frac := 0.0
		if i < len(config.TierExitFractions) {
			frac = config.TierExitFractions[i]
		}
		adjustedPct := basePct * volFactor * marketMult * confidenceMult
		m.tiers = append(m.tiers, types.Tier{
			Index: i, TargetPct: adjustedPct, TargetPrice: m.tierTargetPrice(adjustedPct), ExitFraction: frac,
		})
	}
	return m
}

func (m *Manager) isLong() bool { return m.side == types.Buy }

func (m *Manager) tierTargetPrice(adjustedPct float64) float64 {
	if m.isLong() {
		return m.entryPrice * (1 + adjustedPct)
	}
	return m.entryPrice * (1 - adjustedPct)
}

func (m *Manager) unrealizedGainFraction(price float64) float64 {
	if m.isLong() {
		return (price - m.entryPrice) / m.entryPrice
	}
	return (m.entryPrice - price) / m.entryPrice
}

// realizedGain returns the per-unit profit (positive or negative) of
// exiting at price, given the position's side.
func (m *Manager) realizedGain(price float64) float64 {
	if m.isLong() {
		return price - m.entryPrice
	}
	return m.entryPrice - price
}

func (m *Manager) remainingSize() float64 {
	remaining := m.originalSize
	for _, t := range m.completedTiers {
		remaining -= t.ExitSize
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) holdMinutes(nowMs int64) float64 {
	return float64(nowMs-m.entryTimeMs) / 60000.0
}

// OnPriceUpdate advances the state machine for one price tick and returns
// the directive the Orchestrator should act on. vol20 is the current
// 20-period return-stddev volatility reading, used to classify
// high/normal/low regimes.
func (m *Manager) OnPriceUpdate(price float64, nowMs int64, vol20 float64) Directive {
	if m.state == lifecycleClosed {
		return Directive{Action: ActionHold, Reason: "position_closed"}
	}

	if m.isLong() {
		m.highWater = maxF(m.highWater, price)
	} else {
		m.lowWater = minF(m.lowWater, price)
	}

	volMult := classifyVolatility(vol20)
	holdMinutes := m.holdMinutes(nowMs)
	minHoldElapsed := holdMinutes >= m.config.MinHoldMinutes

	// Stop exit takes priority: capital protection over profit-taking.
	if m.stopCrossed(price) {
		if !minHoldElapsed {
			return Directive{Action: ActionHold, Reason: "min_hold_guard"}
		}
		exitSize := m.remainingSize()
		realized := m.realizedGain(price) * exitSize
		m.realizedPnL += realized
		m.state = lifecycleClosed
		return Directive{Action: ActionExitFull, Reason: "stop_exit", Size: &exitSize, Realized: realized}
	}

	// Tier exits, in order, skipping already-completed tiers.
	for i := range m.tiers {
		t := &m.tiers[i]
		if t.Completed {
			continue
		}
		if !m.tierCrossed(price, *t) {
			continue
		}
		if !minHoldElapsed {
			return Directive{Action: ActionHold, Reason: "min_hold_guard"}
		}
		exitSize := t.ExitFraction * m.originalSize
		if i == len(m.tiers)-1 {
			exitSize = m.remainingSize()
		}
		realized := exitSize * m.entryPrice * t.TargetPct
		m.realizedPnL += realized
		t.Completed = true
		m.completedTiers = append(m.completedTiers, types.CompletedTier{
			Index: t.Index, ExitSize: exitSize, ExitPrice: price, RealizedPnL: realized, TimestampMs: nowMs,
		})

		idx := i
		if m.remainingSize() <= types.Epsilon {
			m.state = lifecycleClosed
			return Directive{Action: ActionExitFull, Reason: "final_tier_exit", Size: &exitSize, Tier: &idx, Realized: realized}
		}
		return Directive{Action: ActionExitPartial, Reason: "tier_exit", Size: &exitSize, Tier: &idx, Realized: realized}
	}

	// Time exit.
	if m.config.EnableTimeBasedAdjustments && holdMinutes >= m.config.MaxHoldMinutes {
		if !minHoldElapsed {
			return Directive{Action: ActionHold, Reason: "min_hold_guard"}
		}
		exitSize := m.remainingSize()
		realized := m.realizedGain(price) * exitSize
		m.realizedPnL += realized
		m.state = lifecycleClosed
		return Directive{Action: ActionExitFull, Reason: "time_exit", Size: &exitSize, Realized: realized}
	}

	// Arming transitions: trailing, then breakeven. Both only ever tighten
	// the stop.
	gain := m.unrealizedGainFraction(price)
	stopUpdated := false

	if gain >= m.config.MinProfit {
		trailDist := m.config.TrailDist * volMult.trail
		var candidate float64
		if m.isLong() {
			candidate = m.highWater * (1 - trailDist)
		} else {
			candidate = m.lowWater * (1 + trailDist)
		}
		if m.tighterStop(candidate) {
			m.currentStop = candidate
			stopUpdated = true
		}
		if m.state == lifecycleOpen {
			m.state = lifecycleTrailingArmed
		}
	}

	if gain >= m.config.BreakevenThreshold {
		var candidate float64
		if m.isLong() {
			candidate = m.entryPrice * (1 + m.config.FeeBuffer)
		} else {
			candidate = m.entryPrice * (1 - m.config.FeeBuffer)
		}
		if m.tighterStop(candidate) {
			m.currentStop = candidate
			stopUpdated = true
		}
		if m.state == lifecycleOpen || m.state == lifecycleTrailingArmed {
			m.state = lifecycleBreakevenArmed
		}
	}

	if stopUpdated {
		stop := m.currentStop
		return Directive{Action: ActionUpdate, Reason: "stop_tightened", Stop: &stop}
	}
	return Directive{Action: ActionHold, Reason: "no_condition_met"}
}

// tighterStop reports whether candidate is strictly better (closer to
// price, in the position's favor) than the current stop.
func (m *Manager) tighterStop(candidate float64) bool {
	if m.isLong() {
		return candidate > m.currentStop
	}
	return candidate < m.currentStop
}

func (m *Manager) stopCrossed(price float64) bool {
	if m.isLong() {
		return price <= m.currentStop
	}
	return price >= m.currentStop
}

func (m *Manager) tierCrossed(price float64, t types.Tier) bool {
	if m.isLong() {
		return price >= t.TargetPrice
	}
	return price <= t.TargetPrice
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

// Snapshot exports the position's current ProfitManager-tracked fields,
// e.g. for persistence or telemetry.
func (m *Manager) Snapshot() types.Position {
	return types.Position{
		Symbol: m.symbol, SizeBase: m.remainingSize(), EntryPrice: m.entryPrice,
		EntryTimeMs: m.entryTimeMs, HighWater: m.highWater, LowWater: m.lowWater,
		CurrentStop: m.currentStop, InitialStop: m.initialStop,
		TrailingActive: m.state == lifecycleTrailingArmed || m.state == lifecycleBreakevenArmed,
		BreakevenActive: m.state == lifecycleBreakevenArmed,
		Tiers: append([]types.Tier(nil), m.tiers...), CompletedTiers: append([]types.CompletedTier(nil), m.completedTiers...),
		RealizedPnL: m.realizedPnL,
	}
}
