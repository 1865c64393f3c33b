// Package main is the entrypoint for the visibility analysis API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ellipsesearch/visibility/internal/api"
	"github.com/ellipsesearch/visibility/internal/api/handler"
	mw "github.com/ellipsesearch/visibility/internal/api/middleware"
	"github.com/ellipsesearch/visibility/internal/api/response"
	"github.com/ellipsesearch/visibility/internal/cache"
	"github.com/ellipsesearch/visibility/internal/config"
	"github.com/ellipsesearch/visibility/internal/enrich"
	"github.com/ellipsesearch/visibility/internal/finalize"
	"github.com/ellipsesearch/visibility/internal/llm"
	"github.com/ellipsesearch/visibility/internal/registry"
	"github.com/ellipsesearch/visibility/internal/scheduler"
	"github.com/ellipsesearch/visibility/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "llm_provider", cfg.LLM.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create LLM provider with the resilient call layer
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}
	breaker := llm.NewBreaker(cfg.LLM.BreakerThreshold, cfg.LLM.BreakerWindow, cfg.LLM.BreakerCooldown)
	caller := llm.NewCaller(breaker, cfg.LLM.MaxAttempts)
	slog.Info("LLM provider initialized", "provider", provider.Name(), "model", provider.Model())

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)
	workers := registry.New(redisCache, cfg.Registry.TTL)
	finalizer := finalize.New(pgStore, cfg.Finalizer.DebounceWindow)
	defer finalizer.Stop()

	enricher := enrich.NewService(pgStore, redisCache, provider, caller, finalizer,
		cfg.LLM, cfg.Webhook.MinContentLength)
	launcher := scheduler.NewLauncher(pgStore, workers, enricher)

	sched := scheduler.New(pgStore, launcher, cfg.Scheduler)
	go sched.Run(ctx)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	webhookAuth := mw.NewWebhookAuth(cfg.Webhook.Secret, cfg.Webhook.MaxSkew, cfg.Webhook.MaxBodyBytes)
	rateLimit := mw.NewRateLimit(redisCache, 120)

	deps := api.Dependencies{
		Auth:        auth,
		WebhookAuth: webhookAuth,
		RateLimit:   rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		ListJobsHandler:     handler.NewListJobsHandler(pgStore),
		ClaimJobsHandler:    handler.NewClaimJobsHandler(pgStore),
		WorkerResultHandler: handler.NewWorkerResultHandler(pgStore, enricher, finalizer, cfg.Webhook.MinContentLength),
		RegisterBatch:       handler.NewBatchRegistrationHandler(pgStore),
		HeartbeatHandler:    handler.NewHeartbeatHandler(workers),
		RemoveWorker:        handler.NewRemoveWorkerHandler(workers),
		AvailabilityHandler: handler.NewAvailabilityHandler(workers),

		CreateBatchHandler: handler.NewCreateBatchHandler(pgStore, launcher),
		GetBatchHandler:    handler.NewGetBatchHandler(pgStore),
		CancelBatchHandler: handler.NewCancelBatchHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
