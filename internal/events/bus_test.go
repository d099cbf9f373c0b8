package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishDeliversToSubscribersOfThatKind(t *testing.T) {
	b := NewBus(zap.NewNop())
	bars := b.Subscribe(KindBar)
	signals := b.Subscribe(KindSignal)

	b.Publish(BarEvent{Symbol: "BTC-USD", Close: 100})

	select {
	case evt := <-bars:
		bar, ok := evt.(BarEvent)
		if !ok || bar.Symbol != "BTC-USD" {
			t.Fatalf("got %#v, want a BarEvent for BTC-USD", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bar event")
	}

	select {
	case evt := <-signals:
		t.Fatalf("signal subscriber should not receive a bar event: %#v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMultipleSubscribersOfSameKindEachReceive(t *testing.T) {
	b := NewBus(zap.NewNop())
	a := b.Subscribe(KindRiskAlert)
	c := b.Subscribe(KindRiskAlert)

	b.Publish(RiskAlertEvent{Symbol: "ETH-USD", Severity: "critical", Reason: "drift"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case evt := <-ch:
			if evt.EventKind() != KindRiskAlert {
				t.Fatalf("kind = %v, want %v", evt.EventKind(), KindRiskAlert)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for risk alert")
		}
	}
}

func TestPublishDropsAndCountsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBus(zap.NewNop())
	b.Subscribe(KindOrderResult) // never drained, so its buffer fills

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(OrderResultEvent{OrderID: "o1"})
	}

	dropped := b.Dropped()
	if dropped[KindOrderResult] != 5 {
		t.Fatalf("dropped[KindOrderResult] = %d, want 5", dropped[KindOrderResult])
	}
}

func TestPublishWithNoSubscribersIsANoOp(t *testing.T) {
	b := NewBus(zap.NewNop())
	b.Publish(SignalEvent{Symbol: "BTC-USD", Direction: "buy"})
	if len(b.Dropped()) != 0 {
		t.Fatalf("dropped = %v, want empty with no subscribers", b.Dropped())
	}
}
