// Package app wires the bookshelf server runtime: config, logging, storage, the auth
// HTTP surface, metrics and tracing.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"bookshelf/cmd/identity"
	authapi "bookshelf/cmd/internal/auth/api"
	"bookshelf/cmd/internal/auth/session"
	"bookshelf/cmd/internal/db"
	"bookshelf/cmd/security/password"
)

// App is the bookshelf server runtime.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool

	sessions    *session.Service
	auth        *authapi.Handler
	httpMetrics *httpMetrics
	tracer      *sdktrace.TracerProvider

	handler http.Handler
}

// New constructs a fully wired App. With no BOOKSHELF_DATABASE_URL every store is
// in memory.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	issuer, err := session.NewAccessIssuer(sessCfg)
	if err != nil {
		return nil, fmt.Errorf("access token issuer: %w", err)
	}

	a := &App{cfg: cfg, log: log}

	var (
		idStore   identity.Store
		sessStore session.Store
		auditLog  authapi.AuditLog
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		idStore = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
		auditLog = authapi.NewMemoryAuditLog(0)
	} else {
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		pg, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store")
		a.pool = pool
		idStore = pg
		sessStore = session.NewPostgresStore(pool)
		auditLog = authapi.NewPostgresAuditLog(pool)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.httpMetrics = newHTTPMetrics(reg)
	a.tracer = newTracerProvider(cfg, log)

	accounts, err := identity.NewAccounts(idStore, pwCfg,
		identity.WithAccountsLogger(log),
		identity.WithBootstrapAdmins(cfg.BootstrapAdmins...),
	)
	if err != nil {
		a.closePool()
		return nil, err
	}
	a.sessions = session.NewService(sessCfg, sessStore, hasher,
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithTracerProvider(a.tracer),
	)
	a.auth, err = authapi.NewHandler(authCfg, accounts, a.sessions, issuer,
		authapi.WithLogger(log),
		authapi.WithAuditLog(auditLog),
	)
	if err != nil {
		a.closePool()
		return nil, err
	}

	a.handler = a.newRouter(reg, a.tracer)
	return a, nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and runs the session janitor until ctx is cancelled or the server
// fails, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		a.sessions.RunJanitor(janitorCtx, a.cfg.JanitorInterval, a.cfg.SessionRetention)
	}()

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", runtimeBaseURL(a.cfg.HTTPAddr),
		"db_enabled", a.pool != nil,
		"janitor_interval", a.cfg.JanitorInterval.String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	stopJanitor()
	<-janitorDone

	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.log.Error("tracer.shutdown.fail", "err", err)
	}
	a.closePool()

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
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
