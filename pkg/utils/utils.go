// Package utils provides small generic helpers shared across the engine:
// ID generation, time-range parsing and a generic retry helper.
package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with an optional prefix.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique client order ID.
func GenerateOrderID() string { return GenerateID("ord") }

// GenerateDecisionID generates a unique signal-engine decision ID.
func GenerateDecisionID() string { return GenerateID("dec") }

// TimeRange represents a closed time interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the range.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Contains reports whether t falls within the range, inclusive of bounds.
func (tr TimeRange) Contains(t time.Time) bool {
	return (t.Equal(tr.Start) || t.After(tr.Start)) && (t.Equal(tr.End) || t.Before(tr.End))
}

// ParseTimeRange parses a duration shorthand such as "1d", "4h", "30m".
func ParseTimeRange(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid time range: %s", s)
	}

	value := 0
	for i, c := range s {
		if c >= '0' && c <= '9' {
			value = value*10 + int(c-'0')
			continue
		}
		unit := s[i:]
		switch unit {
		case "s", "sec", "second", "seconds":
			return time.Duration(value) * time.Second, nil
		case "m", "min", "minute", "minutes":
			return time.Duration(value) * time.Minute, nil
		case "h", "hr", "hour", "hours":
			return time.Duration(value) * time.Hour, nil
		case "d", "day", "days":
			return time.Duration(value) * 24 * time.Hour, nil
		case "w", "week", "weeks":
			return time.Duration(value) * 7 * 24 * time.Hour, nil
		default:
			return 0, fmt.Errorf("unknown time unit: %s", unit)
		}
	}
	return 0, fmt.Errorf("invalid time range: %s", s)
}

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the engine's default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry retries fn with exponential backoff up to config.MaxAttempts times.
func Retry[T any](config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if attempt == config.MaxAttempts {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return result, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, err)
}
