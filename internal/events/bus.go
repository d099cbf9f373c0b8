// Package events adapts the teacher's publish/subscribe event bus into a
// small typed backbone for the engine's four cross-cutting notifications:
// a new bar closing, a signal decision, an order result and a risk alert.
// Subscribers (the dashboard hub, audit logging) never block the
// publisher: each subscriber has its own bounded channel and a slow
// subscriber drops events rather than stalling the orchestrator loop.
//
// Grounded on the teacher's internal/events/event_bus.go (topic-keyed
// subscriber maps, bounded per-subscriber channels, drop-on-full
// delivery); the teacher's research-specific event types have no analog
// here and were replaced with this domain's four event kinds.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Kind identifies an event's type for routing.
type Kind string

const (
	KindBar         Kind = "bar"
	KindSignal      Kind = "signal"
	KindOrderResult Kind = "order_result"
	KindRiskAlert   Kind = "risk_alert"
)

// Event is the common envelope every published value satisfies.
type Event interface {
	EventKind() Kind
}

// BarEvent announces a newly ingested, closed candle for a symbol.
type BarEvent struct {
	Symbol      string
	TimeframeMs int64
	Close       float64
	TimestampMs int64
}

func (BarEvent) EventKind() Kind { return KindBar }

// SignalEvent announces a SignalEngine decision.
type SignalEvent struct {
	Symbol     string
	Direction  string
	Confidence float64
	DecisionID string
}

func (SignalEvent) EventKind() Kind { return KindSignal }

// OrderResultEvent announces the outcome of a submitted order.
type OrderResultEvent struct {
	Symbol  string
	OrderID string
	Status  string
	Filled  float64
	Price   float64
}

func (OrderResultEvent) EventKind() Kind { return KindOrderResult }

// RiskAlertEvent announces a reconciliation drift or trading-pause event.
type RiskAlertEvent struct {
	Symbol   string
	Severity string
	Reason   string
}

func (RiskAlertEvent) EventKind() Kind { return KindRiskAlert }

const subscriberBuffer = 32

type subscriber struct {
	ch chan Event
}

// Bus fans published events out to every subscriber of that event's kind.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[Kind][]*subscriber

	dropped map[Kind]int
}

// NewBus constructs an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:      logger.Named("events"),
		subscribers: make(map[Kind][]*subscriber),
		dropped:     make(map[Kind]int),
	}
}

// Subscribe returns a channel that receives every event of kind published
// after this call. The channel is never closed by Publish; callers drain
// it until their own context is done.
func (b *Bus) Subscribe(kind Kind) <-chan Event {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], sub)
	b.mu.Unlock()
	return sub.ch
}

// Publish delivers evt to every subscriber of its kind, non-blocking: a
// subscriber whose buffer is full has this event dropped rather than
// stalling the publisher.
func (b *Bus) Publish(evt Event) {
	kind := evt.EventKind()
	b.mu.RLock()
	subs := b.subscribers[kind]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		default:
			b.mu.Lock()
			b.dropped[kind]++
			b.mu.Unlock()
			b.logger.Warn("event dropped, subscriber buffer full", zap.String("kind", string(kind)))
		}
	}
}

// Dropped returns the count of events dropped per kind due to a full
// subscriber buffer.
func (b *Bus) Dropped() map[Kind]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Kind]int, len(b.dropped))
	for k, v := range b.dropped {
		out[k] = v
	}
	return out
}
