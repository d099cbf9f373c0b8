package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vertexquant/tradeengine/internal/reconciler"
	"github.com/vertexquant/tradeengine/internal/state"
)

// adminServer is the small loopback HTTP API the CLI subcommands
// (reconcile-now, emergency-sync, pause, resume) dial instead of
// reimplementing engine logic in-process.
type adminServer struct {
	logger *zap.Logger
	sm     *state.Manager
	rec    *reconciler.Reconciler
	router *mux.Router
	srv    *http.Server
}

func newAdminServer(logger *zap.Logger, sm *state.Manager, rec *reconciler.Reconciler) *adminServer {
	a := &adminServer{logger: logger.Named("admin"), sm: sm, rec: rec, router: mux.NewRouter()}
	a.router.HandleFunc("/admin/reconcile-now", a.handleReconcileNow).Methods(http.MethodPost)
	a.router.HandleFunc("/admin/emergency-sync", a.handleEmergencySync).Methods(http.MethodPost)
	a.router.HandleFunc("/admin/pause", a.handlePause).Methods(http.MethodPost)
	a.router.HandleFunc("/admin/resume", a.handleResume).Methods(http.MethodPost)
	return a
}

func (a *adminServer) handleReconcileNow(w http.ResponseWriter, r *http.Request) {
	result := a.rec.ReconcileNow(r.Context())
	status := "ok"
	if result.Err != nil {
		status = result.Err.Error()
	}
	json.NewEncoder(w).Encode(map[string]any{"status": status, "drift": result.Drift})
}

func (a *adminServer) handleEmergencySync(w http.ResponseWriter, r *http.Request) {
	err := a.rec.EmergencySync(r.Context())
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (a *adminServer) handlePause(w http.ResponseWriter, r *http.Request) {
	err := a.sm.PauseTrading(false)
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (a *adminServer) handleResume(w http.ResponseWriter, r *http.Request) {
	err := a.sm.ResumeTrading()
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (a *adminServer) start(addr string) error {
	a.srv = &http.Server{Addr: addr, Handler: a.router, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	a.logger.Info("starting admin control endpoint", zap.String("addr", addr))
	err := a.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *adminServer) stop(ctx context.Context) error {
	if a.srv == nil {
		return nil
	}
	return a.srv.Shutdown(ctx)
}
