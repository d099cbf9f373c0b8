// Command tradeengine is the engine's single entry point: "run" (the
// default, with no subcommand) starts the live/paper trading loop; the
// reconcile-now, emergency-sync, pause and resume subcommands instead dial
// a running process's admin endpoint rather than reimplementing engine
// logic in-process.
//
// Grounded on the teacher's cmd/server/main.go for flag parsing, the
// console zap encoder, component construction order and signal-driven
// graceful shutdown.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vertexquant/tradeengine/internal/backtestapi"
	"github.com/vertexquant/tradeengine/internal/broker"
	"github.com/vertexquant/tradeengine/internal/broker/binance"
	"github.com/vertexquant/tradeengine/internal/broker/instantex"
	"github.com/vertexquant/tradeengine/internal/broker/kraken"
	"github.com/vertexquant/tradeengine/internal/broker/paper"
	"github.com/vertexquant/tradeengine/internal/candles"
	"github.com/vertexquant/tradeengine/internal/dashboard"
	"github.com/vertexquant/tradeengine/internal/events"
	"github.com/vertexquant/tradeengine/internal/flags"
	"github.com/vertexquant/tradeengine/internal/indicators"
	"github.com/vertexquant/tradeengine/internal/orchestrator"
	"github.com/vertexquant/tradeengine/internal/reconciler"
	"github.com/vertexquant/tradeengine/internal/signals"
	"github.com/vertexquant/tradeengine/internal/state"
	"github.com/vertexquant/tradeengine/internal/workers"
	"github.com/vertexquant/tradeengine/pkg/types"
)

// adminRoutes maps each admin subcommand to the route it dials on a
// running process's admin endpoint.
var adminRoutes = map[string]string{
	"reconcile-now":  "/admin/reconcile-now",
	"emergency-sync": "/admin/emergency-sync",
	"pause":          "/admin/pause",
	"resume":         "/admin/resume",
}

func main() {
	if len(os.Args) > 1 {
		if route, ok := adminRoutes[os.Args[1]]; ok {
			runAdminClient(os.Args[1], route, os.Args[2:])
			return
		}
	}
	runEngine()
}

// runAdminClient dials a running tradeengine process's loopback admin API
// instead of reimplementing reconcile/pause/resume logic in this process.
func runAdminClient(name, route string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	adminAddr := fs.String("admin-addr", "127.0.0.1:8091", "admin endpoint host:port")
	fs.Parse(args)

	url := fmt.Sprintf("http://%s%s", *adminAddr, route)
	resp, err := http.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: request failed: %v\n", name, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	fmt.Printf("%s: %s\n", name, resp.Status)
}

func runEngine() {
	symbolsFlag := flag.String("symbols", "BTC-USD", "comma-separated symbols to trade")
	brokerName := flag.String("broker", "paper", "broker adapter: paper, binance, kraken, instantex")
	tierFlag := flag.String("tier", "starter", "feature flag tier: starter, pro, elite, ml")
	dataDir := flag.String("data", "./data", "state/feature-flag data directory")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	startingBalance := flag.Float64("balance", 10_000, "paper adapter starting balance")
	dashboardAddr := flag.String("dashboard-addr", "127.0.0.1:8090", "dashboard WS/metrics listen address")
	backtestAddr := flag.String("backtest-addr", "127.0.0.1:8092", "backtest REST stub listen address")
	adminAddr := flag.String("admin-addr", "127.0.0.1:8091", "admin control listen address")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	symbols := parseSymbols(*symbolsFlag)
	tier := flags.Tier(*tierFlag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	flagMgr, err := flags.New(logger, filepath.Join(*dataDir, "features.json"), tier)
	if err != nil {
		logger.Fatal("failed to load feature flags", zap.Error(err))
	}

	sm := state.New(logger, *dataDir, flagMgr.Mode() == flags.ModeBacktest, *startingBalance)
	sm.Start(ctx)
	defer sm.Stop()

	adapter := newBrokerAdapter(logger, *brokerName, *startingBalance)
	if err := adapter.Connect(ctx); err != nil {
		logger.Fatal("failed to connect broker adapter", zap.Error(err), zap.String("broker", *brokerName))
	}
	defer adapter.Disconnect()

	rec := reconciler.New(logger, adapter, sm, *brokerName == "paper")
	if err := rec.Start(ctx, false); err != nil {
		logger.Warn("initial reconciliation failed", zap.Error(err))
	}

	bus := events.NewBus(logger)
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("reconcile"))
	pool.Start()
	defer pool.Stop()

	dash := dashboard.NewServer(logger, dashboard.Config{
		Addr: *dashboardAddr, WebSocketPath: "/ws",
		ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second,
	})
	dash.FeedState(sm)
	dash.FeedEvents(bus)
	go func() {
		if err := dash.Start(ctx); err != nil {
			logger.Error("dashboard server error", zap.Error(err))
		}
	}()

	bt := backtestapi.NewServer(logger)
	btServer := &http.Server{Addr: *backtestAddr, Handler: bt.Router()}
	go func() {
		if err := btServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backtest API server error", zap.Error(err))
		}
	}()

	admin := newAdminServer(logger, sm, rec)
	go func() {
		if err := admin.start(*adminAddr); err != nil {
			logger.Error("admin server error", zap.Error(err))
		}
	}()

	candleStore := candles.NewStore(logger, types.TF1m, nil)
	go candleStore.Start(ctx)

	orchestrators := make([]*orchestrator.Orchestrator, 0, len(symbols))
	for _, symbol := range symbols {
		indicatorEngine := indicators.NewEngine()
		signalEngine := signals.New(logger, flagMgr, "", string(flagMgr.Mode()), adapter.BrokerName())
		cfg := orchestrator.DefaultConfig(symbol)
		o := orchestrator.New(logger, cfg, adapter, candleStore, indicatorEngine, signalEngine, sm, rec, flagMgr, bus, pool)
		orchestrators = append(orchestrators, o)
		go func(o *orchestrator.Orchestrator) {
			if err := o.Run(ctx); err != nil {
				logger.Error("orchestrator exited with error", zap.Error(err))
			}
		}(o)
	}

	logger.Info("tradeengine started",
		zap.Strings("symbols", symbolNames(symbols)),
		zap.String("broker", *brokerName),
		zap.String("mode", string(flagMgr.Mode())),
		zap.String("tier", string(tier)),
		zap.String("dashboard", *dashboardAddr),
		zap.String("admin", *adminAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	for _, o := range orchestrators {
		o.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := dash.Stop(shutdownCtx); err != nil {
		logger.Error("dashboard shutdown error", zap.Error(err))
	}
	if err := btServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("backtest API shutdown error", zap.Error(err))
	}
	if err := admin.stop(shutdownCtx); err != nil {
		logger.Error("admin shutdown error", zap.Error(err))
	}

	logger.Info("tradeengine stopped")
}

func parseSymbols(raw string) []types.Symbol {
	parts := strings.Split(raw, ",")
	out := make([]types.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, types.Symbol(p))
	}
	if len(out) == 0 {
		out = append(out, types.Symbol("BTC-USD"))
	}
	return out
}

func symbolNames(symbols []types.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = string(s)
	}
	return out
}

func newBrokerAdapter(logger *zap.Logger, name string, startingBalance float64) broker.Adapter {
	switch name {
	case "binance":
		return binance.New(logger, os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
	case "kraken":
		return kraken.New(logger, os.Getenv("KRAKEN_API_KEY"), os.Getenv("KRAKEN_API_SECRET"))
	case "instantex":
		return instantex.New(logger, os.Getenv("INSTANTEX_BEARER_TOKEN"))
	default:
		return paper.New(logger, types.AssetCrypto, startingBalance)
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
