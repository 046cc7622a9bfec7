// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"log/slog"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/domain"
	"github.com/signalmesh/router/pkg/parallel"
)

const isoFormat = "2006-01-02T15:04:05Z"

// RouteRequest is the decomposed /route body: the metadata shell plus the
// open payload bag. Unknown body fields live in Payload and participate in
// the message id.
type RouteRequest struct {
	TenantID       string
	EventID        string
	UserID         string
	Type           string
	TS             string
	Kind           string
	PayloadVersion int
	Payload        map[string]any
}

// RouteResult is the routing outcome returned to the HTTP surface.
type RouteResult struct {
	Status        string   `json:"status"`
	LogID         string   `json:"log_id"`
	RoutedAgents  []string `json:"routed_agents"`
	TraceID       string   `json:"trace_id"`
	DLQLogged     *bool    `json:"dlq_logged,omitempty"`
	LoggingStatus string   `json:"logging_status,omitempty"`
}

// RouteService orchestrates the routing pipeline: identity, dedupe,
// classification, fan-out, aggregation and best-effort logging.
type RouteService struct {
	Logs           domain.LogRepository
	DLQ            DLQService
	Caller         domain.AgentCaller
	MaxConcurrency int
	TaskTimeout    time.Duration
}

// NewRouteService constructs a RouteService with its dependencies.
func NewRouteService(logs domain.LogRepository, dlq DLQService, caller domain.AgentCaller, maxConcurrency int, taskTimeout time.Duration) RouteService {
	return RouteService{Logs: logs, DLQ: dlq, Caller: caller, MaxConcurrency: maxConcurrency, TaskTimeout: taskTimeout}
}

// Route processes one inbound request end to end. Routing outcome and
// persistence are deliberately decoupled: a failed log write never turns a
// routed request into an error.
func (s RouteService) Route(ctx domain.Context, req RouteRequest) (RouteResult, error) {
	start := time.Now()
	timerKind := req.Kind
	if timerKind == "" {
		timerKind = string(domain.KindUnknown)
	}
	defer func() {
		observability.ObserveLatency("total_route", timerKind, time.Since(start))
	}()

	ts := req.TS
	if ts == "" {
		ts = time.Now().UTC().Format(isoFormat)
	}
	traceID := domain.NewTraceID()

	msgID, err := domain.MessageID(req.TenantID, req.EventID, req.UserID, ts, req.PayloadVersion, req.Payload)
	if err != nil {
		return RouteResult{}, fmt.Errorf("%w: derive message id: %v", domain.ErrInternal, err)
	}

	// Dedupe probe. A hit replays the stored outcome with a fresh trace id.
	existing, err := s.Logs.Get(ctx, msgID)
	if err == nil {
		observability.RecordRejection("duplicate")
		slog.Info("duplicate request detected",
			slog.String("log_id", msgID),
			slog.String("trace_id", traceID))
		return RouteResult{
			Status:       domain.StatusAlreadyProcessed,
			LogID:        msgID,
			RoutedAgents: existing.RoutedAgents,
			TraceID:      traceID,
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return RouteResult{}, fmt.Errorf("op=route.dedupe: %w", err)
	}

	kind, confidence := s.resolveKind(req)

	routingPayload := make(map[string]any, len(req.Payload)+5)
	for k, v := range req.Payload {
		routingPayload[k] = v
	}
	routingPayload["tenant_id"] = req.TenantID
	routingPayload["user_id"] = req.UserID
	routingPayload["message_id"] = msgID
	routingPayload["ts"] = ts
	routingPayload["type"] = string(kind)

	// New id: count it before fan-out. Replays never reach this path.
	observability.RecordIngress(string(kind))

	fo := s.fanOut(ctx, msgID, kind, routingPayload, traceID)

	res := RouteResult{
		Status:       fo.status,
		LogID:        msgID,
		RoutedAgents: fo.routedAgents,
		TraceID:      traceID,
		DLQLogged:    fo.dlqLogged,
	}

	sender := req.UserID
	if sender == "" {
		sender = "unknown"
	}
	meta := map[string]any{
		"trace_id":           traceID,
		"confidence":         confidence,
		"processing_time_ms": roundMS(time.Since(start)),
	}
	if req.TenantID != "" {
		meta["tenant_id"] = req.TenantID
	}
	if req.EventID != "" {
		meta["event_id"] = req.EventID
	}
	if req.UserID != "" {
		meta["user_id"] = req.UserID
	}

	rec := domain.LogRecord{
		LogID:        msgID,
		TS:           parseTS(ts),
		SenderID:     sender,
		Kind:         kind,
		RoutedAgents: fo.routedAgents,
		Response:     fo.response,
		Metadata:     meta,
	}
	if err := s.Logs.Upsert(ctx, rec); err != nil {
		slog.Error("failed to log operation",
			slog.String("log_id", msgID),
			slog.Any("error", err))
		slog.Info("operation completed unlogged",
			slog.String("event", "logging_fallback"),
			slog.String("log_id", msgID),
			slog.String("sender_id", sender),
			slog.String("kind", string(kind)),
			slog.Any("routed_agents", fo.routedAgents),
			slog.Any("response", fo.response))
		res.LoggingStatus = "failed"
	}
	return res, nil
}

// resolveKind trusts a caller-supplied kind at full confidence, otherwise
// classifies the payload.
func (s RouteService) resolveKind(req RouteRequest) (domain.Kind, float64) {
	if req.Kind != "" {
		if k, ok := domain.ParseKind(req.Kind); ok {
			return k, 1.0
		}
	}
	return domain.Classify(req.Payload)
}

type fanOutResult struct {
	routedAgents []string
	status       string
	response     map[string]any
	dlqLogged    *bool
}

func (s RouteService) fanOut(ctx domain.Context, logID string, kind domain.Kind, payload map[string]any, traceID string) fanOutResult {
	start := time.Now()
	defer func() {
		observability.ObserveLatency("route_to_agents", string(kind), time.Since(start))
	}()

	agents := domain.AgentsForKind(kind)

	if len(agents) == 0 {
		ok := s.DLQ.Write(ctx, logID, domain.ReasonNoAgentsForKind, payload)
		return fanOutResult{
			routedAgents: []string{string(domain.AgentDLQ)},
			status:       domain.StatusNoAgentsAvailable,
			response:     map[string]any{"status": domain.StatusNoAgentsAvailable, "dlq_logged": ok},
			dlqLogged:    &ok,
		}
	}

	if len(agents) == 1 && agents[0] == domain.AgentDLQ {
		reason := domain.ReasonRoutedToDLQ
		if kind == domain.KindUnknown {
			reason = domain.ReasonUnknownKind
		}
		ok := s.DLQ.Write(ctx, logID, reason, payload)
		return fanOutResult{
			routedAgents: []string{string(domain.AgentDLQ)},
			status:       domain.StatusRoutedToDLQ,
			response:     map[string]any{"status": domain.StatusRoutedToDLQ, "dlq_logged": ok},
			dlqLogged:    &ok,
		}
	}

	enriched := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["trace_id"] = traceID

	results := parallel.Execute(ctx, agents, s.MaxConcurrency, s.TaskTimeout,
		func(taskCtx context.Context, a domain.Agent) (map[string]any, error) {
			return s.Caller.Call(taskCtx, a, enriched, traceID)
		})

	successful := []string{}
	failed := []string{}
	responses := map[string]any{}
	for i, a := range agents {
		if results[i] != nil {
			successful = append(successful, string(a))
			responses[string(a)] = *results[i]
		} else {
			failed = append(failed, string(a))
		}
	}

	if len(successful) == 0 && len(failed) > 0 {
		ok := s.DLQ.Write(ctx, logID, domain.ReasonAllAgentsFailed, payload)
		return fanOutResult{
			routedAgents: []string{string(domain.AgentDLQ)},
			status:       domain.StatusAllAgentsFailed,
			response:     map[string]any{"status": domain.StatusAllAgentsFailed, "failed": failed, "dlq_logged": ok},
			dlqLogged:    &ok,
		}
	}

	return fanOutResult{
		routedAgents: successful,
		status:       domain.StatusSuccess,
		response: map[string]any{
			"status":     domain.StatusSuccess,
			"successful": successful,
			"failed":     failed,
			"responses":  responses,
		},
	}
}

func parseTS(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func roundMS(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000*100) / 100
}
