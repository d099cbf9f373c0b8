// Package flags implements FeatureFlags: a process-wide, reloadable map of
// flag name to {enabled, settings, shadowMode}, plus tier-scoped scalar
// limits. Grounded on the teacher's config plumbing combined with the
// teacher's zap logging convention; the flag file is read with stdlib
// encoding/json, and the teacher's unused spf13/viper is not imported.
package flags

import (
	"encoding/json"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Mode is the engine's run mode, detected from the environment.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeTest     Mode = "test"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

// Tier is the subscription/resource tier that scales position and trade caps.
type Tier string

const (
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
	TierElite   Tier = "elite"
	TierML      Tier = "ml"
)

// Flag is one feature flag's on-disk shape (spec §6 features.json schema).
type Flag struct {
	Enabled    bool           `json:"enabled"`
	Settings   map[string]any `json:"settings"`
	ShadowMode bool           `json:"shadowMode"`
}

type flagFile struct {
	Features map[string]Flag `json:"features"`
}

// legacyAliases maps historical flag names to their current canonical name,
// so flags renamed over the system's life keep resolving for old callers.
var legacyAliases = map[string]string{
	"ADVANCED_INDICATORS_V1": "ADVANCED_INDICATORS",
	"ML_SIGNALS":             "ML_ENHANCED_SIGNALS",
	"VOLUME_FILTER":          "ML_VOLUME_ANALYSIS",
	"SIZE_BY_PATTERN":        "PATTERN_BASED_SIZING",
}

var tierDefaults = map[Tier]map[string]float64{
	TierStarter: {"maxPositions": 1, "maxDailyTrades": 5, "leverage": 1, "patternLimit": 50},
	TierPro:     {"maxPositions": 3, "maxDailyTrades": 20, "leverage": 2, "patternLimit": 200},
	TierElite:   {"maxPositions": 8, "maxDailyTrades": 100, "leverage": 3, "patternLimit": 1000},
	TierML:      {"maxPositions": 8, "maxDailyTrades": 100, "leverage": 3, "patternLimit": 5000},
}

// Manager is the FeatureFlags singleton. Constructed once at boot; callers
// hold a pointer and call its methods concurrently. reload() swaps the
// internal map atomically so isEnabled never observes a half-written map.
type Manager struct {
	logger *zap.Logger
	path   string
	mode   Mode
	tier   Tier

	current atomic.Pointer[map[string]Flag]
}

// New constructs a Manager, loading path once synchronously. Mode is
// detected from the environment per spec §6 via DetectMode.
func New(logger *zap.Logger, path string, tier Tier) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("flags"),
		path:   path,
		mode:   DetectMode(),
		tier:   tier,
	}
	if err := m.reloadLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// DetectMode resolves the run mode from environment variables per spec §6:
// BACKTEST_MODE, TEST_MODE, TRADING_MODE, ENABLE_LIVE_TRADING, PAPER_TRADING.
func DetectMode() Mode {
	if truthyEnv("BACKTEST_MODE") {
		return ModeBacktest
	}
	if truthyEnv("TEST_MODE") {
		return ModeTest
	}
	if truthyEnv("ENABLE_LIVE_TRADING") && strings.EqualFold(os.Getenv("TRADING_MODE"), "live") {
		return ModeLive
	}
	if truthyEnv("PAPER_TRADING") {
		return ModePaper
	}
	switch strings.ToLower(os.Getenv("TRADING_MODE")) {
	case "live":
		return ModeLive
	case "paper":
		return ModePaper
	}
	return ModePaper
}

func truthyEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

// Mode returns the detected/configured run mode.
func (m *Manager) Mode() Mode { return m.mode }

// Tier returns the configured resource tier.
func (m *Manager) Tier() Tier { return m.tier }

// Reload re-reads the flag file and atomically swaps the internal map. No
// ordering guarantee with an in-flight IsEnabled beyond both being
// self-consistent (spec §4.1).
func (m *Manager) Reload() error {
	return m.reloadLocked()
}

func (m *Manager) reloadLocked() error {
	next := map[string]Flag{}
	if m.path != "" {
		data, err := os.ReadFile(m.path)
		if err != nil {
			if os.IsNotExist(err) {
				m.logger.Warn("feature flag file not found, starting empty", zap.String("path", m.path))
			} else {
				return err
			}
		} else {
			var parsed flagFile
			if err := json.Unmarshal(data, &parsed); err != nil {
				return err
			}
			next = parsed.Features
		}
	}
	m.current.Store(&next)
	m.logger.Info("feature flags reloaded", zap.Int("count", len(next)), zap.String("mode", string(m.mode)))
	return nil
}

func (m *Manager) resolve(name string) (Flag, bool) {
	snapshot := m.current.Load()
	if snapshot == nil {
		return Flag{}, false
	}
	if f, ok := (*snapshot)[name]; ok {
		return f, true
	}
	if alias, ok := legacyAliases[name]; ok {
		if f, ok := (*snapshot)[alias]; ok {
			return f, true
		}
	}
	return Flag{}, false
}

// IsEnabled looks up a flag by canonical name, falling back to the legacy
// alias table. Unknown names return false (safe default).
func (m *Manager) IsEnabled(name string) bool {
	f, ok := m.resolve(name)
	return ok && f.Enabled
}

// ShadowMode reports whether a flag is evaluated-but-logged-only.
func (m *Manager) ShadowMode(name string) bool {
	f, ok := m.resolve(name)
	return ok && f.ShadowMode
}

// Setting returns a scalar setting from a flag's settings block, or def if
// the flag or key is absent.
func Setting[T any](m *Manager, name, key string, def T) T {
	f, ok := m.resolve(name)
	if !ok || f.Settings == nil {
		return def
	}
	raw, ok := f.Settings[key]
	if !ok {
		return def
	}
	if v, ok := raw.(T); ok {
		return v
	}
	return def
}

// TierValue returns a tier-scoped scalar limit (maxPositions, maxDailyTrades,
// leverage, patternLimit).
func (m *Manager) TierValue(key string) float64 {
	values, ok := tierDefaults[m.tier]
	if !ok {
		values = tierDefaults[TierStarter]
	}
	return values[key]
}
