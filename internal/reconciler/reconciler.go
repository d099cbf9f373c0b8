// Package reconciler implements the Reconciler: a periodic (and
// on-demand) diff of StateManager's view of balance/position against the
// venue's authoritative truth, with drift classification and a
// none/small/large/critical action table.
//
// Grounded on the teacher's internal/execution/risk_manager.go, whose
// triggerKillSwitch/RiskViolation flow is the model for "classify, record,
// alert, and pause trading on a hard boundary crossing".
package reconciler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/broker"
	"github.com/vertexquant/tradeengine/internal/errs"
	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/pkg/types"
)

const (
	defaultInterval = 30 * time.Second
	maxDriftHistory = 100

	// Warning/pause thresholds are an implementer's choice left open by
	// the design notes; chosen conservatively — see DESIGN.md. Balance
	// drift is compared as a fraction of total balance (floored at 1);
	// position drift is compared as an absolute base-currency amount.
	warningThreshold = 0.001
	pauseThreshold   = 0.01
)

// Result is the outcome of one reconciliation attempt.
type Result struct {
	Busy    bool
	Skipped bool
	Drift   types.Drift
	Err     error
}

// Stats summarizes the bounded drift history.
type Stats struct {
	AvgPositionDrift float64
	MaxPositionDrift float64
	AvgBalanceDrift  float64
	MaxBalanceDrift  float64
	CriticalCount    int
}

// Reconciler periodically diffs StateManager against one adapter's truth.
type Reconciler struct {
	logger   *zap.Logger
	adapter  broker.Adapter
	sm       *state.Manager
	interval time.Duration
	isPaper  bool

	mu            sync.Mutex
	reconciling   bool
	driftHistory  []types.Drift
}

// New constructs a Reconciler. adapter may be nil and isPaper may be true,
// both of which make reconcileNow a no-op success per spec §4.6.
func New(logger *zap.Logger, adapter broker.Adapter, sm *state.Manager, isPaper bool) *Reconciler {
	return &Reconciler{
		logger:   logger.Named("reconciler"),
		adapter:  adapter,
		sm:       sm,
		interval: defaultInterval,
		isPaper:  isPaper,
	}
}

// Start runs one reconciliation synchronously (if blockUntilFirst) to
// avoid trading on unverified state, then drives reconcileNow on a timer
// until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context, blockUntilFirst bool) error {
	if blockUntilFirst {
		result := r.ReconcileNow(ctx)
		if result.Err != nil {
			return fmt.Errorf("initial reconciliation failed: %w", result.Err)
		}
	}

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReconcileNow(ctx)
			}
		}
	}()
	return nil
}

// ReconcileNow fetches adapter balance/positions/open orders as one
// all-or-nothing sequence, diffs against StateManager, classifies drift,
// and applies the action table. Overlapping calls return Busy=true
// immediately; this never succeeds concurrently with itself.
func (r *Reconciler) ReconcileNow(ctx context.Context) Result {
	r.mu.Lock()
	if r.reconciling {
		r.mu.Unlock()
		return Result{Busy: true}
	}
	r.reconciling = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.reconciling = false
		r.mu.Unlock()
	}()

	if r.isPaper || r.adapter == nil {
		return Result{Skipped: true}
	}

	venueBalance, err := r.adapter.GetBalance(ctx)
	if err != nil {
		return r.failClosed(err)
	}
	venuePositions, err := r.adapter.GetPositions(ctx)
	if err != nil {
		return r.failClosed(err)
	}
	if _, err := r.adapter.GetOpenOrders(ctx); err != nil {
		return r.failClosed(err)
	}

	snapshot := r.sm.Snapshot()

	var venuePosition float64
	for _, p := range venuePositions {
		venuePosition += p.SizeBase
	}

	drift := classify(snapshot, venueBalance, venuePosition)
	r.recordDrift(drift)
	metrics.ReconcileDrift.WithLabelValues(string(drift.Severity)).Inc()

	r.applyAction(drift, venueBalance, venuePosition)

	return Result{Drift: drift}
}

// classify computes drift per spec §3's severity rules.
func classify(snapshot types.AccountState, venueBalance, venuePosition float64) types.Drift {
	positionDrift := math.Abs(snapshot.Position - venuePosition)
	balanceDrift := math.Abs(snapshot.Balance - venueBalance)
	hasUnknownPosition := snapshot.Position <= types.Epsilon && venuePosition > types.Epsilon

	severity := types.DriftNone
	switch {
	case hasUnknownPosition:
		severity = types.DriftCritical
	case positionDrift > pauseThreshold || balanceDrift > pauseThreshold*maxOf(snapshot.TotalBalance, 1):
		severity = types.DriftLarge
	case positionDrift > warningThreshold || balanceDrift > warningThreshold*maxOf(snapshot.TotalBalance, 1):
		severity = types.DriftSmall
	}

	return types.Drift{
		PositionDriftBase:  positionDrift,
		BalanceDriftQuote:  balanceDrift,
		HasUnknownPosition: hasUnknownPosition,
		Severity:           severity,
		TimestampMs:        time.Now().UnixMilli(),
	}
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (r *Reconciler) applyAction(drift types.Drift, venueBalance, venuePosition float64) {
	switch drift.Severity {
	case types.DriftNone:
		return
	case types.DriftSmall:
		if err := r.sm.UpdateBalance(venueBalance - r.sm.Snapshot().Balance); err != nil {
			r.logger.Warn("auto-correct balance failed", zap.Error(err))
		}
	case types.DriftLarge:
		r.logger.Error("large drift detected, pausing trading", zap.Any("drift", drift))
		_ = r.sm.PauseTrading(false)
	case types.DriftCritical:
		r.logger.Error("critical drift detected, hard stop", zap.Any("drift", drift))
		_ = r.sm.PauseTrading(true)
	}
}

func (r *Reconciler) failClosed(err error) Result {
	r.logger.Error("reconciliation fetch sequence failed, pausing trading", zap.Error(err))
	_ = r.sm.PauseTrading(false)
	return Result{Err: fmt.Errorf("%w: %v", errs.ErrReconciliation, err)}
}

func (r *Reconciler) recordDrift(d types.Drift) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driftHistory = append(r.driftHistory, d)
	if len(r.driftHistory) > maxDriftHistory {
		r.driftHistory = r.driftHistory[len(r.driftHistory)-maxDriftHistory:]
	}
}

// EmergencySync forces StateManager to the venue's truth and clears drift
// history.
func (r *Reconciler) EmergencySync(ctx context.Context) error {
	if r.adapter == nil {
		return fmt.Errorf("%w: no adapter configured for emergency sync", errs.ErrConfig)
	}
	balance, err := r.adapter.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrReconciliation, err)
	}
	positions, err := r.adapter.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrReconciliation, err)
	}
	var total float64
	for _, p := range positions {
		total += p.SizeBase
	}

	current := r.sm.Snapshot()
	if err := r.sm.UpdateBalance(balance - current.Balance); err != nil {
		return err
	}
	if err := r.sm.EmergencyReset(); err != nil {
		return err
	}

	r.mu.Lock()
	r.driftHistory = nil
	r.mu.Unlock()

	r.logger.Warn("emergency sync complete", zap.Float64("venue_balance", balance), zap.Float64("venue_position", total))
	return nil
}

// IsReconciling reports whether a reconciliation is currently in flight.
func (r *Reconciler) IsReconciling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconciling
}

// Stats summarizes the bounded drift history.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	if len(r.driftHistory) == 0 {
		return s
	}
	var sumPos, sumBal float64
	for _, d := range r.driftHistory {
		sumPos += d.PositionDriftBase
		sumBal += d.BalanceDriftQuote
		if d.PositionDriftBase > s.MaxPositionDrift {
			s.MaxPositionDrift = d.PositionDriftBase
		}
		if d.BalanceDriftQuote > s.MaxBalanceDrift {
			s.MaxBalanceDrift = d.BalanceDriftQuote
		}
		if d.Severity == types.DriftCritical {
			s.CriticalCount++
		}
	}
	n := float64(len(r.driftHistory))
	s.AvgPositionDrift = sumPos / n
	s.AvgBalanceDrift = sumBal / n
	return s
}
