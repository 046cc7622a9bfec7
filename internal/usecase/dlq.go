package usecase

import (
	"time"

	"log/slog"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/domain"
)

// DLQService writes dead-letter rows and answers status queries.
type DLQService struct {
	Repo        domain.DLQRepository
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewDLQService constructs a DLQService with the default write budget.
func NewDLQService(repo domain.DLQRepository) DLQService {
	return DLQService{Repo: repo, MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Write inserts one dead-letter row, retrying briefly on failure. It reports
// whether the row landed; the caller annotates its response with the result.
// When every attempt fails the payload is preserved in a structured log so
// the event is never silently lost.
func (s DLQService) Write(ctx domain.Context, logID string, reason domain.DLQReason, payload map[string]any) bool {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

retry:
	for attempt := 0; attempt < attempts; attempt++ {
		err := s.Repo.Insert(ctx, logID, reason, payload)
		if err == nil {
			observability.RecordDLQ(string(reason))
			slog.Info("added to dlq",
				slog.String("log_id", logID),
				slog.String("reason", string(reason)))
			return true
		}
		slog.Error("dlq insert failed",
			slog.String("log_id", logID),
			slog.String("reason", string(reason)),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		if attempt < attempts-1 {
			select {
			case <-time.After(delay << attempt):
			case <-ctx.Done():
				break retry
			}
		}
	}

	slog.Error("dlq write permanently failed, using fallback logging",
		slog.String("event", "dlq_fallback"),
		slog.String("log_id", logID),
		slog.String("reason", string(reason)),
		slog.Any("payload", payload))
	return false
}

// Status aggregates the queue for the operator endpoint.
func (s DLQService) Status(ctx domain.Context) (domain.DLQStatus, error) {
	return s.Repo.Status(ctx)
}

// Count returns the current backlog size.
func (s DLQService) Count(ctx domain.Context) (int64, error) {
	return s.Repo.Count(ctx)
}
