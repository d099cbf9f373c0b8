// Package dashboard is a thin fan-out sink: it turns StateManager updates
// and engine events into a WebSocket broadcast, nothing more. There is no
// UI behind it and no inbound command handling beyond subscribe/unsubscribe.
//
// Grounded on the teacher's internal/api/websocket.go Hub (register/
// unregister/broadcast channels, ping/pong keepalive, per-client send
// buffer with drop-on-full) and internal/api/server.go's HTTP wiring
// (gorilla/mux router, rs/cors middleware, upgrader).
package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Envelope is the engine's one outbound WebSocket message shape, carrying
// whatever update triggered it.
type Envelope struct {
	Type      string `json:"type"`
	Source    string `json:"source"`
	Updates   any    `json:"updates,omitempty"`
	Context   string `json:"context,omitempty"`
	State     any    `json:"state,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

const heartbeatInterval = 30 * time.Second

// client is one connected WebSocket subscriber.
type client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans Envelope broadcasts out to every connected client, and supports
// per-channel subscriptions for clients that only want a subset of state
// (e.g. one symbol's updates).
type Hub struct {
	logger *zap.Logger

	clients    map[*client]bool
	channels   map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex
}

// NewHub constructs a Hub. Call Run in its own goroutine before Upgrade is
// ever called.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("dashboard"),
		clients:    make(map[*client]bool),
		channels:   make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub's register/unregister/broadcast/heartbeat loop until
// done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("id", c.id))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				for channel := range c.subscriptions {
					if peers, ok := h.channels[channel]; ok {
						delete(peers, c)
						if len(peers) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("id", c.id))
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("client send buffer full, dropping", zap.String("id", c.id))
				}
			}
			h.mu.RUnlock()
		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) sendHeartbeat() {
	h.Broadcast(Envelope{Type: "heartbeat", Source: "dashboard", Timestamp: time.Now().UnixMilli()})
}

func (h *Hub) subscribe(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*client]bool)
	}
	h.channels[channel][c] = true
	c.mu.Lock()
	c.subscriptions[channel] = true
	c.mu.Unlock()
}

func (h *Hub) unsubscribe(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.channels[channel]; ok {
		delete(peers, c)
		if len(peers) == 0 {
			delete(h.channels, channel)
		}
	}
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// Broadcast sends env to every connected client, dropping it entirely
// (with a log) if the shared broadcast channel is saturated.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping envelope", zap.String("type", env.Type))
	}
}

// PublishToChannel sends env only to clients subscribed to channel.
func (h *Hub) PublishToChannel(channel string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if peers, ok := h.channels[channel]; ok {
		for c := range peers {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:            conn.RemoteAddr().String(),
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// readPump pumps inbound subscribe/unsubscribe control messages from the
// client to the hub until the connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		var cmd struct {
			Type    string `json:"type"`
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case "subscribe":
			h.subscribe(c, cmd.Channel)
		case "unsubscribe":
			h.unsubscribe(c, cmd.Channel)
		}
	}
}

// writePump pumps outbound messages (and ping keepalives) to the client
// until send is closed or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
