// Package state implements StateManager: the single authoritative,
// serialized source of truth for account/position state. Every mutation
// passes through one FIFO command queue so two concurrent callers can
// never interleave a read-modify-write.
//
// Grounded on the teacher's internal/execution/risk_manager.go (RiskManager
// serializes CheckOrder/RecordTrade through its own mutex-guarded state,
// and triggerKillSwitch mirrors the pause/resume shape here) and the
// cmd/server/main.go wiring style for graceful start/stop.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/errs"
	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/pkg/types"
)

const maxTransactionLog = 100

// Transaction is one recorded mutation attempt, kept for audit/debugging.
type Transaction struct {
	Kind        string
	TimestampMs int64
	Before      types.AccountState
	After       types.AccountState
	Err         string
}

// Listener is notified synchronously, inside the mutation's critical
// section, after every successful state change.
type Listener func(types.AccountState)

type command struct {
	kind string
	fn   func(*types.AccountState) error
	done chan error
}

// Manager is the StateManager. Construct with New, then call Start to
// begin processing the command queue; Stop to drain and halt.
type Manager struct {
	logger       *zap.Logger
	dataDir      string
	backtestMode bool

	cmdCh chan command
	wg    sync.WaitGroup

	mu        sync.RWMutex // guards state for read-only Snapshot callers
	state     types.AccountState
	listeners []Listener
	txLog     []Transaction
}

// New constructs a Manager seeded with an initial balance. dataDir is
// where state.json is persisted; persistence is skipped entirely when
// backtestMode is true.
func New(logger *zap.Logger, dataDir string, backtestMode bool, initialBalance float64) *Manager {
	m := &Manager{
		logger:       logger.Named("state"),
		dataDir:      dataDir,
		backtestMode: backtestMode,
		cmdCh:        make(chan command, 64),
		state: types.AccountState{
			Balance:      initialBalance,
			TotalBalance: initialBalance,
			ActiveTrades: make(map[string]types.ActiveTrade),
			IsTrading:    true,
			LastUpdateMs: time.Now().UnixMilli(),
		},
	}
	if loaded, err := m.load(); err == nil {
		m.state = loaded
	}
	return m
}

// Start runs the command-processing loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-m.cmdCh:
				m.process(cmd)
			}
		}
	}()
}

// Stop waits for the processing goroutine to exit after ctx cancellation.
func (m *Manager) Stop() {
	m.wg.Wait()
}

// RegisterListener adds a listener invoked after every successful mutation.
func (m *Manager) RegisterListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Snapshot returns a deep copy of the current state, safe for concurrent
// read while mutations are in flight.
func (m *Manager) Snapshot() types.AccountState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

func (m *Manager) submit(kind string, fn func(*types.AccountState) error) error {
	cmd := command{kind: kind, fn: fn, done: make(chan error, 1)}
	m.cmdCh <- cmd
	return <-cmd.done
}

// process runs one command to completion: snapshot, apply, validate,
// restore-on-error, persist, notify. Holds m.mu only for the duration of
// the in-memory swap so Snapshot readers never see a partial state.
func (m *Manager) process(cmd command) {
	m.mu.Lock()
	before := m.state.Clone()
	working := m.state.Clone()
	m.mu.Unlock()

	err := cmd.fn(&working)
	if err == nil {
		err = validate(working)
	}

	var after types.AccountState
	if err != nil {
		after = before
		m.logger.Warn("state mutation rejected, restoring prior state",
			zap.String("kind", cmd.kind), zap.Error(err))
	} else {
		working.LastUpdateMs = time.Now().UnixMilli()
		after = working
	}

	m.mu.Lock()
	m.state = after
	m.recordTransaction(cmd.kind, before, after, err)
	m.mu.Unlock()

	if err == nil {
		m.persist(after)
		m.updateMetrics(after)
		m.notifyListeners(after)
	}

	cmd.done <- err
}

func (m *Manager) recordTransaction(kind string, before, after types.AccountState, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	m.txLog = append(m.txLog, Transaction{
		Kind: kind, TimestampMs: time.Now().UnixMilli(),
		Before: before, After: after, Err: errStr,
	})
	if len(m.txLog) > maxTransactionLog {
		m.txLog = m.txLog[len(m.txLog)-maxTransactionLog:]
	}
}

// notifyListeners calls every registered listener, swallowing panics so one
// misbehaving subscriber (e.g. the dashboard hub) never corrupts a mutation
// that already committed.
func (m *Manager) notifyListeners(s types.AccountState) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("state listener panicked", zap.Any("recover", r))
				}
			}()
			l(s)
		}()
	}
}

func (m *Manager) updateMetrics(s types.AccountState) {
	metrics.Balance.Set(s.Balance)
	metrics.PositionSize.Set(s.Position)
	metrics.RealizedPnL.Set(s.RealizedPnL)
	metrics.DailyTradeCount.Set(float64(s.DailyTradeCount))
	if !s.IsTrading {
		metrics.TradingPaused.Set(1)
	} else {
		metrics.TradingPaused.Set(0)
	}
}

// validate enforces the account-state invariants that must hold after
// every mutation: non-negative balances/sizes, position/entry-price
// consistency, trade-count sanity, and the balance/inPosition/totalBalance
// identity of spec §3.
func validate(s types.AccountState) error {
	if s.Balance < 0 {
		return fmt.Errorf("%w: negative balance %.8f", errs.ErrInvariantViolation, s.Balance)
	}
	if s.Position < 0 {
		return fmt.Errorf("%w: negative position %.8f", errs.ErrInvariantViolation, s.Position)
	}
	if s.InPosition < 0 {
		return fmt.Errorf("%w: negative in-position notional %.8f", errs.ErrInvariantViolation, s.InPosition)
	}
	if s.Position > types.Epsilon && s.EntryPrice <= 0 {
		return fmt.Errorf("%w: open position with non-positive entry price", errs.ErrInvariantViolation)
	}
	if s.Position <= types.Epsilon && s.EntryPrice != 0 && len(s.ActiveTrades) > 0 {
		return fmt.Errorf("%w: flat position but active trades present", errs.ErrInvariantViolation)
	}
	if s.DailyTradeCount < 0 {
		return fmt.Errorf("%w: negative daily trade count", errs.ErrInvariantViolation)
	}
	if !types.FloatEqual(s.Balance+s.InPosition, s.TotalBalance) {
		return fmt.Errorf("%w: balance %.8f + inPosition %.8f != totalBalance %.8f",
			errs.ErrInvariantViolation, s.Balance, s.InPosition, s.TotalBalance)
	}
	return nil
}

// OpenPosition records a new (or additional) position entry, debiting the
// notional cost (sizeBase*entryPrice) from Balance into InPosition so
// TotalBalance (free cash plus position value) is unchanged by the open.
func (m *Manager) OpenPosition(trade types.ActiveTrade, size, entryPrice float64) error {
	return m.submit("open_position", func(s *types.AccountState) error {
		notional := size * entryPrice
		s.Position += size
		s.EntryPrice = entryPrice
		s.Balance -= notional
		s.InPosition += notional
		s.ActiveTrades[trade.OrderID] = trade
		s.DailyTradeCount++
		return nil
	})
}

// ClosePosition realizes exitSize of a tracked trade's PnL. The trade entry
// is only removed once its own remaining size reaches zero, so a tier-based
// partial exit followed by a later exit on the same order id still finds
// its trade (spec §4.4's multi-tier profit-taking depends on this). The
// notional booked against that slice of size at open (exitSize*entryPrice)
// moves back from InPosition to Balance, topped up by the realized PnL, so
// the proceeds credited equal exitSize*exitPrice.
func (m *Manager) ClosePosition(orderID string, exitSize, realizedPnL float64) error {
	return m.submit("close_position", func(s *types.AccountState) error {
		trade, ok := s.ActiveTrades[orderID]
		if !ok {
			return fmt.Errorf("%w: unknown active trade %s", errs.ErrInvariantViolation, orderID)
		}
		notional := exitSize * trade.EntryPrice

		s.Position -= exitSize
		if s.Position < 0 {
			s.Position = 0
		}
		s.InPosition -= notional
		if s.InPosition < 0 {
			s.InPosition = 0
		}
		s.RealizedPnL += realizedPnL
		s.Balance += notional + realizedPnL
		s.TotalBalance += realizedPnL

		trade.Size -= exitSize
		if trade.Size <= types.Epsilon {
			delete(s.ActiveTrades, orderID)
		} else {
			s.ActiveTrades[orderID] = trade
		}

		if s.Position <= types.Epsilon {
			s.EntryPrice = 0
			s.InPosition = 0
		}
		return nil
	})
}

// UpdateBalance adjusts the free balance by delta (positive or negative).
func (m *Manager) UpdateBalance(delta float64) error {
	return m.submit("update_balance", func(s *types.AccountState) error {
		s.Balance += delta
		s.TotalBalance += delta
		return nil
	})
}

// PauseTrading halts new order submission without touching open positions.
// recoveryMode, when true, is sticky until ResumeTrading clears it (spec §9
// open question: no automatic recovery-mode exit).
func (m *Manager) PauseTrading(recoveryMode bool) error {
	return m.submit("pause_trading", func(s *types.AccountState) error {
		s.IsTrading = false
		if recoveryMode {
			s.RecoveryMode = true
		}
		return nil
	})
}

// ResumeTrading clears both the trading pause and recovery mode.
func (m *Manager) ResumeTrading() error {
	return m.submit("resume_trading", func(s *types.AccountState) error {
		s.IsTrading = true
		s.RecoveryMode = false
		return nil
	})
}

// EmergencyReset force-clears all tracked trades and positions, leaving
// Balance untouched. The written-off position's notional is dropped from
// TotalBalance along with InPosition, since after unrecoverable drift its
// true value is unknown. Used when the Reconciler detects unrecoverable
// drift.
func (m *Manager) EmergencyReset() error {
	return m.submit("emergency_reset", func(s *types.AccountState) error {
		s.ActiveTrades = make(map[string]types.ActiveTrade)
		s.Position = 0
		s.TotalBalance -= s.InPosition
		s.InPosition = 0
		s.EntryPrice = 0
		s.IsTrading = false
		s.RecoveryMode = true
		return nil
	})
}

type persistedState struct {
	Balance         float64               `json:"balance"`
	TotalBalance    float64               `json:"totalBalance"`
	InPosition      float64               `json:"inPosition"`
	Position        float64               `json:"position"`
	EntryPrice      float64               `json:"entryPrice"`
	ActiveTrades    []persistedTradeEntry `json:"activeTrades"`
	RealizedPnL     float64               `json:"realizedPnL"`
	IsTrading       bool                  `json:"isTrading"`
	RecoveryMode    bool                  `json:"recoveryMode"`
	LastUpdateMs    int64                 `json:"lastUpdateMs"`
	DailyTradeCount int                   `json:"dailyTradeCount"`
}

type persistedTradeEntry struct {
	Key   string             `json:"key"`
	Trade types.ActiveTrade `json:"trade"`
}

func toPersisted(s types.AccountState) persistedState {
	entries := make([]persistedTradeEntry, 0, len(s.ActiveTrades))
	for k, v := range s.ActiveTrades {
		entries = append(entries, persistedTradeEntry{Key: k, Trade: v})
	}
	return persistedState{
		Balance: s.Balance, TotalBalance: s.TotalBalance, InPosition: s.InPosition,
		Position: s.Position, EntryPrice: s.EntryPrice, ActiveTrades: entries,
		RealizedPnL: s.RealizedPnL, IsTrading: s.IsTrading, RecoveryMode: s.RecoveryMode,
		LastUpdateMs: s.LastUpdateMs, DailyTradeCount: s.DailyTradeCount,
	}
}

func fromPersisted(p persistedState) types.AccountState {
	trades := make(map[string]types.ActiveTrade, len(p.ActiveTrades))
	for _, e := range p.ActiveTrades {
		trades[e.Key] = e.Trade
	}
	return types.AccountState{
		Balance: p.Balance, TotalBalance: p.TotalBalance, InPosition: p.InPosition,
		Position: p.Position, EntryPrice: p.EntryPrice, ActiveTrades: trades,
		RealizedPnL: p.RealizedPnL, IsTrading: p.IsTrading, RecoveryMode: p.RecoveryMode,
		LastUpdateMs: p.LastUpdateMs, DailyTradeCount: p.DailyTradeCount,
	}
}

func (m *Manager) statePath() string {
	return filepath.Join(m.dataDir, "state.json")
}

// persist writes state.json atomically (write to a temp file, then
// rename), skipped entirely in backtest mode where disk I/O would only
// slow down a replay loop.
func (m *Manager) persist(s types.AccountState) {
	if m.backtestMode || m.dataDir == "" {
		return
	}
	data, err := json.MarshalIndent(toPersisted(s), "", "  ")
	if err != nil {
		m.logger.Error("failed to marshal state", zap.Error(err))
		return
	}
	tmp := m.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		m.logger.Error("failed to write state temp file", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, m.statePath()); err != nil {
		m.logger.Error("failed to rename state temp file", zap.Error(err))
	}
}

func (m *Manager) load() (types.AccountState, error) {
	data, err := os.ReadFile(m.statePath())
	if err != nil {
		return types.AccountState{}, err
	}
	var p persistedState
	if err := json.Unmarshal(data, &p); err != nil {
		return types.AccountState{}, err
	}
	return fromPersisted(p), nil
}

// Transactions returns a copy of the bounded transaction log, most recent
// last.
func (m *Manager) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, len(m.txLog))
	copy(out, m.txLog)
	return out
}
