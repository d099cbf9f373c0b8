package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/events"
	"github.com/vertexquant/tradeengine/internal/metrics"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/pkg/types"
)

// Config holds the dashboard's HTTP listener tunables.
type Config struct {
	Addr         string
	WebSocketPath string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1:8090", WebSocketPath: "/ws",
		ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second,
	}
}

// Server hosts the WebSocket fan-out and the /metrics endpoint. It is fed
// entirely by StateManager listeners and an events.Bus subscription; it
// never reaches back into engine internals on its own.
type Server struct {
	logger     *zap.Logger
	config     Config
	hub        *Hub
	upgrader   websocket.Upgrader
	router     *mux.Router
	httpServer *http.Server
	done       chan struct{}
}

// NewServer constructs a Server and wires its routes. It does not start
// listening until Start is called.
func NewServer(logger *zap.Logger, config Config) *Server {
	s := &Server{
		logger: logger.Named("dashboard"), config: config,
		hub:    NewHub(logger),
		router: mux.NewRouter(),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize: 1024, WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(conn)
	s.hub.register <- c
	go s.hub.writePump(c)
	go s.hub.readPump(c)
}

// Router exposes the underlying mux.Router so callers (e.g. the admin
// endpoint wiring in cmd/tradeengine) can extend it with extra routes on
// the same listener before Start is called.
func (s *Server) Router() *mux.Router { return s.router }

// Hub exposes the fan-out hub so callers can broadcast engine events.
func (s *Server) Hub() *Hub { return s.hub }

// FeedState registers a StateManager listener that broadcasts every
// account-state mutation as a state_update envelope.
func (s *Server) FeedState(sm *state.Manager) {
	sm.RegisterListener(func(account types.AccountState) {
		s.hub.Broadcast(Envelope{
			Type: "state_update", Source: "state_manager", State: account,
			Timestamp: time.Now().UnixMilli(),
		})
	})
}

// FeedEvents drains bus's bar/signal/order/risk-alert channels for the
// process lifetime, re-broadcasting each as an update envelope.
func (s *Server) FeedEvents(bus *events.Bus) {
	go s.relay(bus.Subscribe(events.KindBar), "bar")
	go s.relay(bus.Subscribe(events.KindSignal), "signal")
	go s.relay(bus.Subscribe(events.KindOrderResult), "order_result")
	go s.relay(bus.Subscribe(events.KindRiskAlert), "risk_alert")
}

func (s *Server) relay(ch <-chan events.Event, context string) {
	for evt := range ch {
		s.hub.Broadcast(Envelope{
			Type: "engine_event", Source: "events_bus", Context: context,
			Updates: evt, Timestamp: time.Now().UnixMilli(),
		})
	}
}

// Start runs the hub loop and the HTTP listener, blocking until the
// listener stops (Stop is called or it errors).
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(s.done)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr: s.config.Addr, Handler: handler,
		ReadTimeout: s.config.ReadTimeout, WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting dashboard server", zap.String("addr", s.config.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP listener and the hub loop.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
