package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rhttp "github.com/Strob0t/reactor/internal/adapter/http"
	rnats "github.com/Strob0t/reactor/internal/adapter/nats"
	"github.com/Strob0t/reactor/internal/adapter/natskv"
	"github.com/Strob0t/reactor/internal/adapter/otel"
	"github.com/Strob0t/reactor/internal/adapter/postgres"
	"github.com/Strob0t/reactor/internal/adapter/ristretto"
	"github.com/Strob0t/reactor/internal/adapter/tiered"
	"github.com/Strob0t/reactor/internal/builtin"
	"github.com/Strob0t/reactor/internal/config"
	"github.com/Strob0t/reactor/internal/logger"
	"github.com/Strob0t/reactor/internal/middleware"
	"github.com/Strob0t/reactor/internal/port/cache"
	"github.com/Strob0t/reactor/internal/resilience"
	"github.com/Strob0t/reactor/internal/sandbox"
	"github.com/Strob0t/reactor/internal/service"
)

func main() {
	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = runMigrate(os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "admin":
		err = runAdmin(os.Args[2:])
	default:
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"max_parallel", cfg.Reactor.MaxParallel,
	)

	ctx := context.Background()

	// --- Observability ---

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("schema up to date")

	// NATS
	queue, err := rnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Cache
	caches, err := newCaches(cfg.Cache, func() (cache.Cache, error) {
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return nil, err
		}
		return natskv.New(kv), nil
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer caches.close()

	// --- Services ---

	store := postgres.NewStore(pool)

	svcPrincipal, err := service.EnsureServicePrincipal(ctx, store, cfg.Reactor.ServicePrincipalName)
	if err != nil {
		return fmt.Errorf("service principal: %w", err)
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	tokenSvc := service.NewAccessTokenService(store, caches.tokens, cfg.Reactor.TokenTTL)
	platformSvc := service.NewPlatformService(store, queue, tokenSvc, breaker, svcPrincipal)
	platformSvc.SetMetrics(metrics)
	agentSvc := service.NewAgentService(store, svcPrincipal)

	reactorSvc := service.NewReactorService(agentSvc, tokenSvc, platformSvc, svcPrincipal,
		agentScripts(cfg.Reactor), cfg.Reactor.MaxParallel)
	reactorSvc.SetLogger(log)
	reactorSvc.SetMetrics(metrics)
	reactorSvc.SetLaunchTimeout(cfg.Reactor.LaunchTimeout)

	if err := reactorSvc.Initialize(ctx); err != nil {
		return fmt.Errorf("reactor initialize: %w", err)
	}

	agentCtx, stopAgents := context.WithCancel(ctx)
	defer stopAgents()

	tasks, err := reactorSvc.Start(agentCtx)
	if err != nil {
		return fmt.Errorf("reactor start: %w", err)
	}
	defer stopTasks(tasks)

	// --- HTTP ---

	handlers := &rhttp.Handlers{
		Agents:    agentSvc,
		Endpoints: cfg.Endpoints,
		Checks: map[string]rhttp.HealthCheck{
			"postgres": pool.Ping,
			"nats": func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			},
		},
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(rhttp.SecurityHeaders)
	r.Use(rhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.Auth(tokenSvc))
	r.Use(rhttp.Logger)
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(caches.shared, cfg.Server.IdempotencyTTL))

	rhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	stopAgents()
	stopTasks(tasks)
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
	return nil
}

// cacheSet splits process-local state from state that may be shared through
// the L2 bucket. Access tokens carry plaintext secrets and stay in L1.
type cacheSet struct {
	tokens cache.Cache
	shared cache.Cache
	close  func()
}

// newCaches builds the L1 ristretto cache and, when an L2 bucket is
// configured, a tiered cache over it for shared entries. openL2 is only
// called when an L2 bucket is set.
func newCaches(cfg config.Cache, openL2 func() (cache.Cache, error)) (*cacheSet, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	c := &cacheSet{tokens: l1, shared: l1, close: l1.Close}
	if cfg.L2Bucket == "" {
		return c, nil
	}

	l2, err := openL2()
	if err != nil {
		l1.Close()
		return nil, fmt.Errorf("l2 bucket %s: %w", cfg.L2Bucket, err)
	}
	c.shared = tiered.New(l1, l2, cfg.L2TTL)
	return c, nil
}

// agentScripts returns the on-disk agents directory when configured and the
// bundled set otherwise.
func agentScripts(cfg config.Reactor) fs.FS {
	if cfg.AgentsDir != "" {
		return os.DirFS(cfg.AgentsDir)
	}
	return builtin.FS()
}

// stopTasks stops every task. Safe to call more than once.
func stopTasks(tasks []*sandbox.Task) {
	for _, t := range tasks {
		t.Stop()
	}
}
