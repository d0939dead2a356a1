// Package app wires the unisession runtime: config, logging, storage, the
// auth facade with its HTTP surface, and the realtime session gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"unisession/cmd/internal/auth/api"
	"unisession/cmd/internal/auth/flow"
	"unisession/cmd/internal/auth/session"
	"unisession/cmd/internal/credential"
	"unisession/cmd/internal/federated"
	"unisession/cmd/internal/federated/oidcprovider"
	"unisession/cmd/internal/metrics"
	"unisession/cmd/internal/realtime"
	"unisession/cmd/internal/remote"
)

const setupTimeout = 30 * time.Second

// App is the unisession runtime. It owns the storage backend, the session
// manager and everything that observes it.
type App struct {
	cfg Config
	log Logger

	store    *storage
	registry *prometheus.Registry

	sessions *session.Manager
	fed      *federated.Adapter
	svc      *authflow.Service
	remote   *remote.Client

	hub    *realtime.Hub
	hubSub session.Subscription
	ws     *realtime.Gateway
	auth   *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	cfg, err := cfg.Sanitize()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, log, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg Config, log Logger, st *storage) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	local := credential.New(st.kv, cfg.passwords, credential.WithLogger(log))
	if cfg.ImportLegacyPath != "" {
		if err := importLegacy(ctx, local, cfg.ImportLegacyPath, log); err != nil {
			return nil, err
		}
	}

	sessions := session.NewManager(st.kv, nil,
		session.WithLogger(log),
		session.WithMetrics(rec),
	)

	deps := authflow.Deps{
		Local:    local,
		Sessions: sessions,
		Prefs:    st.kv,
		Logger:   log,
		Metrics:  rec,
	}

	var rc *remote.Client
	if cfg.RemoteBaseURL != "" {
		c, err := remote.New(remote.Config{BaseURL: cfg.RemoteBaseURL, Timeout: cfg.RemoteTimeout}, nil, log, rec)
		if err != nil {
			return nil, err
		}
		rc = c
		deps.Remote = c
		log.Info("remote.enabled", "base_url", cfg.RemoteBaseURL)
	} else {
		log.Info("remote.disabled")
	}

	var provider federated.Provider
	if cfg.OIDCIssuerURL != "" {
		p, err := oidcprovider.New(ctx, oidcprovider.Config{
			Kind:         cfg.OIDCKind,
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       cfg.OIDCScopes,
		})
		if err != nil {
			return nil, err
		}
		provider = p
		log.Info("federated.enabled", "kind", p.Kind(), "issuer", cfg.OIDCIssuerURL)
	}
	fed := federated.NewAdapter(provider, sessions, log)
	deps.Federated = fed

	svc, err := authflow.New(deps)
	if err != nil {
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, svc, cfg.Auth)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, sessions.Current)
	hubSub := sessions.Broadcaster().Subscribe(hub.OnSessionEvent)

	fed.Start()
	if _, err := sessions.Refresh(ctx); err != nil {
		log.Warn("session.initial_refresh_failed", "err", err)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: reg,
		sessions: sessions,
		fed:      fed,
		svc:      svc,
		remote:   rc,
		hub:      hub,
		hubSub:   hubSub,
		ws:       realtime.NewGateway(log, hub, cfg.WS),
		auth:     authHandler,
	}, nil
}

func importLegacy(ctx context.Context, local *credential.Store, path string, log Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("credential.import.missing", "path", path)
			return nil
		}
		return fmt.Errorf("app: open legacy accounts: %w", err)
	}
	defer f.Close()

	stats, err := local.ImportLegacy(ctx, f)
	if err != nil {
		return err
	}
	log.Info("credential.import.done",
		"path", path,
		"imported", stats.Imported,
		"skipped", stats.Skipped,
		"invalid", stats.Invalid,
	)
	return nil
}

// Handler returns the full HTTP surface with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run starts the HTTP server and the session watcher and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"storage", a.store.driver,
		"remote_enabled", a.remote != nil,
		"federated_enabled", a.fed.Available(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.sessions.Watch(gctx, a.cfg.SessionWatchInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		// Websocket connections are hijacked; Shutdown does not wait for them.
		a.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.Close()
	a.log.Info("server.stopped")
	return err
}

// Close detaches observers and releases storage. Run calls it on exit.
func (a *App) Close() {
	a.sessions.Broadcaster().Unsubscribe(a.hubSub)
	a.fed.Close()
	a.hub.Close()
	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
