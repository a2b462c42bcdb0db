package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	_ "github.com/tillerhq/tiller/internal/adapter/discord"
	_ "github.com/tillerhq/tiller/internal/adapter/email"
	tilhttp "github.com/tillerhq/tiller/internal/adapter/http"
	"github.com/tillerhq/tiller/internal/adapter/mcp"
	tilnats "github.com/tillerhq/tiller/internal/adapter/nats"
	"github.com/tillerhq/tiller/internal/adapter/natskv"
	tilotel "github.com/tillerhq/tiller/internal/adapter/otel"
	"github.com/tillerhq/tiller/internal/adapter/postgres"
	"github.com/tillerhq/tiller/internal/adapter/ristretto"
	_ "github.com/tillerhq/tiller/internal/adapter/slack"
	"github.com/tillerhq/tiller/internal/adapter/tiered"
	"github.com/tillerhq/tiller/internal/adapter/webhook"
	"github.com/tillerhq/tiller/internal/adapter/ws"
	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/logger"
	"github.com/tillerhq/tiller/internal/middleware"
	tilcache "github.com/tillerhq/tiller/internal/port/cache"
	"github.com/tillerhq/tiller/internal/port/notifier"
	"github.com/tillerhq/tiller/internal/resilience"
	"github.com/tillerhq/tiller/internal/reversal"
	"github.com/tillerhq/tiller/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := runHashKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "hash-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.New(cfg.Logging))

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"undo_window", cfg.Undo.Window,
		"auth_enabled", cfg.Auth.Enabled,
	)

	ctx := context.Background()

	// --- Telemetry ---
	if cfg.Telemetry.Enabled {
		shutdown, err := tilotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// --- Infrastructure ---
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	queue, err := tilnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()
	slog.Info("nats connected", "url", cfg.NATS.URL)

	localCache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// Idempotency replay must be visible across replicas, so it rides a
	// shared NATS KV tier over the in-process cache.
	idemCache := tilcache.Cache(localCache)
	if kv, kvErr := queue.KeyValue(ctx, "tiller_idempotency", cfg.Cache.IdempotencyTTL); kvErr != nil {
		slog.Warn("idempotency falls back to local cache", "error", kvErr)
	} else {
		idemCache = tiered.New(localCache, natskv.New(kv), cfg.Cache.PendingTTL)
	}

	// --- Notifiers ---
	var notifiers []notifier.Notifier
	for name, settings := range cfg.Notify.Providers {
		n, err := notifier.New(name, settings)
		if err != nil {
			slog.Warn("notifier skipped", "provider", name, "error", err)
			continue
		}
		notifiers = append(notifiers, n)
		slog.Info("notifier registered", "provider", name)
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	trustSvc := service.NewTrustService(store, cfg.Trust)
	notifySvc := service.NewNotificationService(notifiers, cfg.Notify.Events)
	eff := webhook.NewEffector(cfg.Effector)

	engine := service.NewActionEngine(store, eff, trustSvc, reversal.NewRegistry(), notifySvc, cfg.Undo.Window)
	engine.SetQueue(queue)
	engine.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	engine.SetPendingCache(localCache, cfg.Cache.PendingTTL)

	hub := ws.NewHub()
	engine.SetBroadcaster(hub)

	if cfg.Telemetry.Enabled {
		metrics, err := tilotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		engine.SetMetrics(metrics)
	}

	sweeper := service.NewUndoSweeper(store, engine, cfg.Undo)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// --- HTTP ---
	handlers := &tilhttp.Handlers{
		Engine: engine,
		Trust:  trustSvc,
		Queue:  queue,
		DB:     pool,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(tilhttp.Logger)
	r.Use(tilhttp.SecurityHeaders)
	r.Use(tilhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	if cfg.Telemetry.Enabled {
		r.Use(tilotel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeyHash, cfg.Auth.Enabled))
	r.Use(middleware.Idempotency(idemCache, cfg.Cache.IdempotencyTTL))

	r.Get("/ws", hub.HandleWS)
	tilhttp.MountRoutes(r, handlers)

	// --- MCP ---
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "tiller",
			Version: version,
		}, engine)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
		slog.Info("mcp server started", "port", cfg.MCP.Port)
	}

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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
