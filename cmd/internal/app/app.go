// Package app wires the mereb server runtime: config, logging, the session
// store backend, and the operational HTTP surface (health, readiness, metrics).
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"mereb/cmd/identity"
	"mereb/cmd/internal/auth/session"
	"mereb/cmd/internal/migrations"
)

// App is the mereb server runtime: it owns the store backend, the session
// service and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	backend  *backend
	sessions *session.Service
	registry *prometheus.Registry
}

// backend groups the refresh store, the principal directory and the
// resources (pool, redis client) that back them.
type backend struct {
	name      string
	store     session.Store
	directory identity.Directory
	pgPool    *pgxpool.Pool
	closers   []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// New constructs a fully wired App instance.
func New(ctx context.Context, cfg Config, sessCfg session.Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := session.NewMetrics(reg)
	if err != nil {
		be.Close()
		return nil, err
	}

	svc, err := session.NewService(sessCfg, be.store, be.directory,
		session.WithLogger(log),
		session.WithMetrics(metrics),
		session.WithHasher(hasher),
	)
	if err != nil {
		be.Close()
		return nil, err
	}

	log.Info("session.ready",
		"store", be.name,
		"access_ttl", sessCfg.AccessTokenTTL,
		"refresh_ttl", sessCfg.RefreshTTL,
		"hmac", hasher.HMAC(),
	)

	return &App{
		cfg:      cfg,
		log:      log,
		backend:  be,
		sessions: svc,
		registry: reg,
	}, nil
}

// Sessions returns the session service for embedding transports.
func (a *App) Sessions() *session.Service { return a.sessions }

// Directory returns the principal directory.
func (a *App) Directory() identity.Directory { return a.backend.directory }

// Handler returns the HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend, a.registry)
	return WithRequestID(WithRequestLogging(mux, a.log))
}

// Close releases backend resources. Run calls it on exit.
func (a *App) Close() { a.backend.Close() }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.backend.name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
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

// newBackend builds the configured refresh store and principal directory.
//
// Ownership model:
// - backend owns the pool / redis client lifecycle
// - stores and directories never close what they were given
func newBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	name, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	be := &backend{name: name}

	switch name {
	case BackendMemory:
		log.Info("store.memory")
		be.store = session.NewMemoryStore()
		be.directory = identity.NewMemoryDirectory()
		return be, nil

	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		be.closers = append(be.closers, func() { _ = client.Close() })

		st, err := session.NewRedisStore(client, cfg.RedisKeyPrefix)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.store = st
		log.Info("store.redis", "addr", cfg.RedisAddr, "prefix", cfg.RedisKeyPrefix)

		if cfg.DatabaseURL == "" {
			be.directory = identity.NewMemoryDirectory()
			return be, nil
		}
		if err := be.attachPostgresDirectory(ctx, cfg, log); err != nil {
			be.Close()
			return nil, err
		}
		return be, nil

	default:
		if err := be.attachPostgresDirectory(ctx, cfg, log); err != nil {
			be.Close()
			return nil, err
		}
		st, err := session.NewPostgresStore(be.pgPool)
		if err != nil {
			be.Close()
			return nil, err
		}
		be.store = st
		log.Info("store.postgres")
		return be, nil
	}
}

func (b *backend) attachPostgresDirectory(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DBMigrate {
		if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("db.migrated")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	b.closers = append(b.closers, pool.Close)
	b.pgPool = pool

	dir, err := identity.NewPostgresDirectory(pool)
	if err != nil {
		return err
	}
	b.directory = dir
	log.Info("db.enabled.postgres_directory")
	return nil
}
