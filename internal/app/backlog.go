package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/domain"
)

// BacklogGauge periodically refreshes the DLQ backlog metric so dashboards
// see queue depth without a scrape-time query.
type BacklogGauge struct {
	dlq      domain.DLQRepository
	interval time.Duration
}

func NewBacklogGauge(dlq domain.DLQRepository, interval time.Duration) *BacklogGauge {
	if dlq == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &BacklogGauge{dlq: dlq, interval: interval}
}

func (g *BacklogGauge) Run(ctx context.Context) {
	if g == nil || g.dlq == nil {
		return
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.updateOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dlq backlog gauge stopping")
			return
		case <-ticker.C:
			g.updateOnce(ctx)
		}
	}
}

func (g *BacklogGauge) updateOnce(ctx context.Context) {
	n, err := g.dlq.Count(ctx)
	if err != nil {
		slog.Error("dlq backlog refresh failed", slog.Any("error", err))
		return
	}
	observability.DLQBacklog.Set(float64(n))
}
