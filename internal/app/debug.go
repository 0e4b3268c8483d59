package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rownak/pkg/logger"
)

// startDebug serves /healthz and /metrics on the configured local
// address. Returns a stop func; a no-op when the listener is disabled.
func (a *App) startDebug(ctx context.Context) func() {
	if a.cfg.Debug.Addr == "" {
		return func() {}
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		ver := a.version
		if ver == "" {
			ver = "dev"
		}
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{Addr: a.cfg.Debug.Addr, Handler: r}
	go func() {
		logger.Info("debug_listener_started", "addr", a.cfg.Debug.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("debug_listener_failed", "error", err)
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}
