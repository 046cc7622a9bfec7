package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrNoEndpoint      = errors.New("no endpoint")
	ErrUpstreamStatus  = errors.New("upstream status")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrInternal        = errors.New("internal error")
)

// Kind classifies an inbound event.
type Kind string

const (
	KindAssist    Kind = "assist"
	KindPolicy    Kind = "policy"
	KindEmergency Kind = "emergency"
	KindUnknown   Kind = "unknown"
)

// ParseKind validates a caller-supplied kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAssist, KindPolicy, KindEmergency, KindUnknown:
		return Kind(s), true
	}
	return "", false
}

// Agent identifies a downstream processing service. DLQ is synthetic: it has
// no endpoint and marks the dead-letter write path.
type Agent string

const (
	AgentAxis Agent = "Axis"
	AgentM    Agent = "M"
	AgentDLQ  Agent = "DLQ"
)

// DLQReason enumerates why an event was dead-lettered.
type DLQReason string

const (
	ReasonUnknownKind     DLQReason = "unknown_kind"
	ReasonNoAgentsForKind DLQReason = "no_agents_for_kind"
	ReasonAllAgentsFailed DLQReason = "all_agents_failed"
	ReasonRoutedToDLQ     DLQReason = "routed_to_dlq"
)

// Routing outcome statuses returned by POST /route and stored in logs.response.
const (
	StatusSuccess           = "success"
	StatusAlreadyProcessed  = "already_processed"
	StatusRoutedToDLQ       = "routed_to_dlq"
	StatusNoAgentsAvailable = "no_agents_available"
	StatusAllAgentsFailed   = "all_agents_failed"
	StatusQueuedForDLQ      = "queued_for_dlq"
	StatusReplayed          = "replayed"
)

// LogRecord is one idempotent audit row keyed by the canonical message id.
type LogRecord struct {
	LogID        string
	TS           time.Time
	SenderID     string
	Kind         Kind
	RoutedAgents []string
	Response     map[string]any
	Metadata     map[string]any
}

// DLQEntry is one dead-lettered routing attempt. LogID is not unique; the
// same message may fail more than once.
type DLQEntry struct {
	ID       int64
	TS       time.Time
	LogID    string
	Reason   DLQReason
	Payload  map[string]any
	Attempts int
}

// DLQReasonCount is one row of the reason distribution, ordered by count.
type DLQReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// DLQStatus aggregates the queue for GET /dlq/status.
type DLQStatus struct {
	Count       int64            `json:"count"`
	Oldest      *time.Time       `json:"oldest"`
	MaxAttempts int              `json:"max_attempts"`
	UniqueLogs  int64            `json:"unique_logs"`
	Reasons     []DLQReasonCount `json:"reasons"`
}

// Repositories (ports)

//go:generate mockery --name=LogRepository --with-expecter --filename=log_repository_mock.go
//go:generate mockery --name=DLQRepository --with-expecter --filename=dlq_repository_mock.go

type LogRepository interface {
	Get(ctx Context, logID string) (LogRecord, error)
	Exists(ctx Context, logID string) (bool, error)
	Upsert(ctx Context, rec LogRecord) error
	ListBySender(ctx Context, senderID string, limit, offset int) ([]LogRecord, error)
}

type DLQRepository interface {
	Insert(ctx Context, logID string, reason DLQReason, payload map[string]any) error
	Count(ctx Context) (int64, error)
	Status(ctx Context) (DLQStatus, error)
	FetchBatch(ctx Context, limit int) ([]DLQEntry, error)
	Delete(ctx Context, id int64) error
	IncrementAttempts(ctx Context, id int64) error
	// CompleteReplay atomically writes the replayed log row and removes the
	// DLQ row in one transaction.
	CompleteReplay(ctx Context, id int64, rec LogRecord) error
}

// AgentCaller (port): one call to one agent, circuit+retry included.
// traceID is propagated to the agent as the X-Trace-ID header.

type AgentCaller interface {
	Call(ctx Context, agent Agent, payload map[string]any, traceID string) (map[string]any, error)
}

// AgentHealthChecker (port): replay gate on downstream health.

type AgentHealthChecker interface {
	Healthy(ctx Context) bool
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through

type Context = context.Context
