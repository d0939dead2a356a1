package app

import (
	"net/http"
	"time"

	"unisession/cmd/internal/metrics"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireRemote && a.remote == nil {
			http.Error(w, "remote not configured", http.StatusServiceUnavailable)
			return
		}
		if err := a.store.Ping(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "storage not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.storage.not_ready", "driver", a.store.driver, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", metrics.Handler(a.registry))

	a.auth.Register(mux)

	mux.HandleFunc("/ws", a.ws.HandleWS)
}
