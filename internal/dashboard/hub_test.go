package dashboard

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeClient exercises the hub's register/broadcast/channel-routing logic
// without a real network connection, mirroring the client struct's only
// hub-visible surface: a send buffer and a subscription set.
func fakeClient() *client {
	return &client{id: "test", send: make(chan []byte, 8), subscriptions: make(map[string]bool)}
}

func runHub(t *testing.T) (*Hub, func()) {
	t.Helper()
	h := NewHub(zap.NewNop())
	done := make(chan struct{})
	go h.Run(done)
	return h, func() { close(done) }
}

func TestBroadcastReachesAllRegisteredClients(t *testing.T) {
	h, stop := runHub(t)
	defer stop()

	a, b := fakeClient(), fakeClient()
	h.register <- a
	h.register <- b
	time.Sleep(10 * time.Millisecond)

	h.Broadcast(Envelope{Type: "state_update", Source: "test"})

	for _, c := range []*client{a, b} {
		select {
		case msg := <-c.send:
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Type != "state_update" {
				t.Fatalf("type = %q, want state_update", env.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}

func TestPublishToChannelOnlyReachesSubscribers(t *testing.T) {
	h, stop := runHub(t)
	defer stop()

	subscribed, other := fakeClient(), fakeClient()
	h.register <- subscribed
	h.register <- other
	time.Sleep(10 * time.Millisecond)
	h.subscribe(subscribed, "orders:BTC-USD")

	h.PublishToChannel("orders:BTC-USD", Envelope{Type: "engine_event", Context: "order_result"})

	select {
	case <-subscribed.send:
	case <-time.After(time.Second):
		t.Fatal("subscribed client never received the channel message")
	}

	select {
	case msg := <-other.send:
		t.Fatalf("unsubscribed client received unexpected message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterRemovesClientFromChannels(t *testing.T) {
	h, stop := runHub(t)
	defer stop()

	c := fakeClient()
	h.register <- c
	time.Sleep(10 * time.Millisecond)
	h.subscribe(c, "trades")

	h.unregister <- c
	time.Sleep(10 * time.Millisecond)

	if h.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0 after unregister", h.ClientCount())
	}
	h.mu.RLock()
	_, stillTracked := h.channels["trades"]
	h.mu.RUnlock()
	if stillTracked {
		t.Fatal("channel subscription should be cleaned up on unregister")
	}
}

func TestBroadcastDropsWhenClientBufferFull(t *testing.T) {
	h, stop := runHub(t)
	defer stop()

	c := fakeClient()
	h.register <- c
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 20; i++ {
		h.Broadcast(Envelope{Type: "state_update"})
	}
	time.Sleep(20 * time.Millisecond)

	if len(c.send) != cap(c.send) {
		t.Fatalf("send buffer length = %d, want full at %d (excess should be dropped, not block)", len(c.send), cap(c.send))
	}
}
