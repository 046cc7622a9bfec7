// Command router starts the message routing HTTP service.
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

	"github.com/signalmesh/router/internal/adapter/agent"
	httpserver "github.com/signalmesh/router/internal/adapter/httpserver"
	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/adapter/repo/postgres"
	"github.com/signalmesh/router/internal/app"
	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/service/breaker"
	"github.com/signalmesh/router/internal/service/ratelimiter"
	"github.com/signalmesh/router/internal/service/retry"
	"github.com/signalmesh/router/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes routing, DLQ and HTTP instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool + migrations
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	logRepo := postgres.NewLogRepo(pool)
	dlqRepo := postgres.NewDLQRepo(pool)

	// Resilience primitives shared by the agent caller
	br := breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
	re := retry.New(cfg.RetryMaxAttempts, cfg.RetryBackoffMin, cfg.RetryBackoffMax)
	caller := agent.New(cfg, br, re)
	checker := agent.NewHealthChecker(cfg)
	limiter := ratelimiter.New(cfg.RateLimitPerSecond, cfg.RateLimitWindow)

	// Usecases
	dlqSvc := usecase.NewDLQService(dlqRepo)
	routeSvc := usecase.NewRouteService(logRepo, dlqSvc, caller, cfg.FanoutMaxConcurrency, cfg.FanoutTaskTimeout)
	logsSvc := usecase.NewLogsService(logRepo, cfg.MaxLogsLimit)
	replaySvc := usecase.NewReplayService(dlqRepo, logRepo, checker, cfg.AutoReplayBatchSize, cfg.AutoReplayInterval)
	healthSvc := usecase.NewHealthService(pool, br)

	// Background workers: periodic DLQ replay and the backlog gauge. Both
	// stop when workerCtx is cancelled during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	if cfg.EnableAutoReplay {
		go replaySvc.Run(workerCtx)
		slog.Info("auto replay enabled",
			slog.Duration("interval", cfg.AutoReplayInterval),
			slog.Int("batch_size", cfg.AutoReplayBatchSize))
	}
	go app.NewBacklogGauge(dlqRepo, cfg.DLQMetricsInterval).Run(workerCtx)

	// HTTP server
	srv := httpserver.NewServer(cfg, routeSvc, logsSvc, dlqSvc, replaySvc, healthSvc, limiter)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
