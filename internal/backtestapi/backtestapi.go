// Package backtestapi exposes the route surface spec §6 names for
// backtest orchestration over HTTP: run, optimize, results/:id, list,
// best, presets. The backtest replay engine behind these routes is
// genuinely out of scope (it replays the same SignalEngine/ProfitManager
// pipeline against historical candles with no broker.Adapter) — these
// handlers only make the contract real, each returning NotImplemented.
//
// Grounded on the teacher's internal/api/server.go route table
// (/api/v1/backtest/run, /{id}, /{id}/trades, /{id}/cancel) adapted to
// spec's own six-route naming.
package backtestapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RunRequest starts a single backtest over one symbol/timeframe/date range.
type RunRequest struct {
	Symbol      string  `json:"symbol"`
	Timeframe   string  `json:"timeframe"`
	StartMs     int64   `json:"startMs"`
	EndMs       int64   `json:"endMs"`
	StartingCap float64 `json:"startingCapital"`
	PresetName  string  `json:"presetName,omitempty"`
}

// OptimizeRequest grid-searches a RunRequest's tunables over a parameter
// space, scored by some objective (e.g. Sharpe, max drawdown).
type OptimizeRequest struct {
	Base       RunRequest         `json:"base"`
	ParamGrid  map[string][]float64 `json:"paramGrid"`
	Objective  string             `json:"objective"`
}

// ResultSummary is the shape a completed backtest's results would take.
type ResultSummary struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	TotalTrades   int     `json:"totalTrades"`
	WinRate       float64 `json:"winRate"`
	NetPnL        float64 `json:"netPnl"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	SharpeRatio   float64 `json:"sharpeRatio"`
}

// Preset is a named, reusable RunRequest configuration.
type Preset struct {
	Name    string     `json:"name"`
	Request RunRequest `json:"request"`
}

// Server hosts the backtest-API route surface. Every handler returns
// StatusNotImplemented: the routes exist so the contract is real, not so
// it executes.
type Server struct {
	logger *zap.Logger
	router *mux.Router
}

// NewServer constructs a Server and wires spec §6's six routes.
func NewServer(logger *zap.Logger) *Server {
	s := &Server{logger: logger.Named("backtestapi"), router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/backtest/optimize", s.handleOptimize).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/backtest/results/{id}", s.handleResults).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/backtest/list", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/backtest/best", s.handleBest).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/backtest/presets", s.handlePresets).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router so a caller can mount it
// alongside other routers on one listener.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) notImplemented(w http.ResponseWriter, route string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not implemented",
		"route": route,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.notImplemented(w, "run")
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.notImplemented(w, "optimize")
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.notImplemented(w, "results/"+mux.Vars(r)["id"])
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.notImplemented(w, "list")
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	s.notImplemented(w, "best")
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.notImplemented(w, "presets")
}
