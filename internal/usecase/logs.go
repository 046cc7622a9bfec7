package usecase

import (
	"fmt"

	"github.com/signalmesh/router/internal/domain"
)

const defaultLogsLimit = 100

// LogsService reads routed-message history for operators.
type LogsService struct {
	Logs     domain.LogRepository
	MaxLimit int
}

// NewLogsService constructs a LogsService.
func NewLogsService(logs domain.LogRepository, maxLimit int) LogsService {
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	return LogsService{Logs: logs, MaxLimit: maxLimit}
}

// ListBySender returns log records for one sender, newest first.
func (s LogsService) ListBySender(ctx domain.Context, senderID string, limit, offset int) ([]domain.LogRecord, error) {
	if senderID == "" {
		return nil, fmt.Errorf("%w: sender_id is required", domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = defaultLogsLimit
	}
	if limit > s.MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidArgument, s.MaxLimit)
	}
	if offset < 0 {
		offset = 0
	}
	recs, err := s.Logs.ListBySender(ctx, senderID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("op=logs.list: %w", err)
	}
	return recs, nil
}
