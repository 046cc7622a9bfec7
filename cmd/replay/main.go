// Command replay drains the dead letter queue once and exits. It is the
// operator-run counterpart of the automated replay worker inside the server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/signalmesh/router/internal/adapter/agent"
	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/adapter/repo/postgres"
	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/usecase"
)

func main() {
	limit := flag.Int("limit", 100, "maximum number of items to replay")
	dryRun := flag.Bool("dry-run", false, "show what would be replayed without writing anything")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	logRepo := postgres.NewLogRepo(pool)
	dlqRepo := postgres.NewDLQRepo(pool)
	checker := agent.NewHealthChecker(cfg)
	svc := usecase.NewReplayService(dlqRepo, logRepo, checker, cfg.AutoReplayBatchSize, cfg.AutoReplayInterval)

	start := time.Now()
	report, err := svc.RunOnce(ctx, usecase.ModeManual, *limit, *dryRun)
	if err != nil {
		slog.Error("dlq replay failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("dlq replay complete",
		slog.Int("processed", report.Processed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("errored", report.Errored),
		slog.Bool("dry_run", report.DryRun),
		slog.Bool("agents_healthy", report.AgentsHealthy),
		slog.Duration("duration", time.Since(start)))
}
