package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/domain"
)

// Replay run modes, used as metric labels.
const (
	ModeAutomated = "automated"
	ModeManual    = "manual"
)

// Replay item outcomes, used as metric labels.
const (
	outcomeSuccess = "success"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// ReplayReport summarizes one replay run.
type ReplayReport struct {
	Processed     int  `json:"processed"`
	Succeeded     int  `json:"succeeded"`
	Skipped       int  `json:"skipped"`
	Errored       int  `json:"errored"`
	DryRun        bool `json:"dry_run"`
	AgentsHealthy bool `json:"agents_healthy"`
}

// ReplayService drains the DLQ back into logs. One run at a time per
// process; overlapping runs are rejected and counted.
type ReplayService struct {
	DLQ       domain.DLQRepository
	Logs      domain.LogRepository
	Health    domain.AgentHealthChecker
	BatchSize int
	Interval  time.Duration

	running atomic.Bool
}

// NewReplayService constructs a ReplayService.
func NewReplayService(dlq domain.DLQRepository, logs domain.LogRepository, health domain.AgentHealthChecker, batchSize int, interval time.Duration) *ReplayService {
	return &ReplayService{DLQ: dlq, Logs: logs, Health: health, BatchSize: batchSize, Interval: interval}
}

// Run drives automated replay until ctx is cancelled.
func (s *ReplayService) Run(ctx domain.Context) {
	slog.Info("automated dlq replay started", slog.Duration("interval", s.Interval))
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("automated dlq replay stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, ModeAutomated, s.BatchSize, false); err != nil {
				slog.Error("automated replay run failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce performs one replay pass. Automated runs skip when agents are
// unhealthy; manual runs proceed with a warning so an operator can force
// drain. Dry runs list intended actions and write nothing.
func (s *ReplayService) RunOnce(ctx domain.Context, mode string, limit int, dryRun bool) (ReplayReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		observability.ReplayRateLimitedTotal.Inc()
		return ReplayReport{}, fmt.Errorf("%w: replay already running", domain.ErrConflict)
	}
	defer s.running.Store(false)

	observability.ReplayRunsTotal.WithLabelValues(mode).Inc()

	if limit <= 0 {
		limit = s.BatchSize
	}

	healthy := s.Health.Healthy(ctx)
	report := ReplayReport{DryRun: dryRun, AgentsHealthy: healthy}
	if !healthy {
		if mode == ModeAutomated {
			slog.Warn("agents unhealthy, skipping automated dlq replay")
			return report, nil
		}
		slog.Warn("agents unhealthy, proceeding with manual replay")
	}

	count, err := s.DLQ.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("op=replay.count: %w", err)
	}
	if count == 0 {
		slog.Debug("dlq empty, nothing to replay")
		return report, nil
	}

	batch, err := s.DLQ.FetchBatch(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("op=replay.fetch: %w", err)
	}
	slog.Info("replaying dlq batch",
		slog.String("mode", mode),
		slog.Int("items", len(batch)),
		slog.Bool("dry_run", dryRun))

	if dryRun {
		for _, e := range batch {
			slog.Info("would replay",
				slog.Int64("id", e.ID),
				slog.String("log_id", e.LogID),
				slog.String("reason", string(e.Reason)))
		}
		report.Processed = len(batch)
		return report, nil
	}

	for _, e := range batch {
		outcome := s.replayItem(ctx, e)
		observability.ReplayItemsTotal.WithLabelValues(mode, outcome).Inc()
		report.Processed++
		switch outcome {
		case outcomeSuccess:
			report.Succeeded++
		case outcomeSkipped:
			report.Skipped++
		default:
			report.Errored++
		}
	}

	slog.Info("dlq replay complete",
		slog.String("mode", mode),
		slog.Int("processed", report.Processed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("skipped", report.Skipped),
		slog.Int("errored", report.Errored))
	return report, nil
}

// replayItem handles one DLQ row: dedupe against logs, then re-ingest.
// Replayed rows never count as ingress.
func (s *ReplayService) replayItem(ctx domain.Context, e domain.DLQEntry) string {
	exists, err := s.Logs.Exists(ctx, e.LogID)
	if err != nil {
		slog.Error("replay dedupe probe failed",
			slog.Int64("id", e.ID),
			slog.String("log_id", e.LogID),
			slog.Any("error", err))
		s.bumpAttempts(ctx, e.ID)
		return outcomeError
	}
	if exists {
		if err := s.DLQ.Delete(ctx, e.ID); err != nil {
			slog.Error("failed to drop already-processed dlq row",
				slog.Int64("id", e.ID),
				slog.Any("error", err))
			s.bumpAttempts(ctx, e.ID)
			return outcomeError
		}
		slog.Info("skipping replay, message already processed",
			slog.Int64("id", e.ID),
			slog.String("log_id", e.LogID))
		return outcomeSkipped
	}

	sender, _ := e.Payload["user_id"].(string)
	if sender == "" {
		sender = "unknown"
	}
	rec := domain.LogRecord{
		LogID:        e.LogID,
		SenderID:     sender,
		Kind:         inferKind(e.Payload),
		RoutedAgents: []string{string(domain.AgentAxis)},
		Response:     map[string]any{"status": domain.StatusReplayed, "source": "dlq_replay"},
		Metadata: map[string]any{
			"replayed_at":                time.Now().UTC().Format(isoFormat),
			"original_dlq_id":            e.ID,
			"replay_deduplication_check": "passed",
		},
	}
	if err := s.DLQ.CompleteReplay(ctx, e.ID, rec); err != nil {
		slog.Error("replay failed",
			slog.Int64("id", e.ID),
			slog.String("log_id", e.LogID),
			slog.Any("error", err))
		s.bumpAttempts(ctx, e.ID)
		return outcomeError
	}
	slog.Info("replayed dlq item",
		slog.Int64("id", e.ID),
		slog.String("log_id", e.LogID))
	return outcomeSuccess
}

func (s *ReplayService) bumpAttempts(ctx domain.Context, id int64) {
	if err := s.DLQ.IncrementAttempts(ctx, id); err != nil {
		slog.Error("failed to increment dlq attempts",
			slog.Int64("id", id),
			slog.Any("error", err))
	}
}

// inferKind is deliberately simpler than the ingest classifier: replay only
// checks bare keyword presence in the serialized payload.
func inferKind(payload map[string]any) domain.Kind {
	b, err := json.Marshal(payload)
	if err != nil {
		return domain.KindAssist
	}
	msg := strings.ToLower(string(b))
	switch {
	case strings.Contains(msg, "emergency"), strings.Contains(msg, "urgent"), strings.Contains(msg, "crisis"):
		return domain.KindEmergency
	case strings.Contains(msg, "policy"), strings.Contains(msg, "compliance"):
		return domain.KindPolicy
	default:
		return domain.KindAssist
	}
}
