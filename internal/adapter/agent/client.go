// Package agent implements the HTTP caller for downstream routing agents.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/domain"
	"github.com/signalmesh/router/internal/service/breaker"
	"github.com/signalmesh/router/internal/service/retry"
)

// Client implements domain.AgentCaller over HTTP with circuit breaking and
// bounded retry. The DLQ agent is synthetic and never leaves the process.
type Client struct {
	baseURL string
	hc      *http.Client
	breaker *breaker.Breaker
	retrier *retry.Executor
}

// New constructs a Client. Calls go through an otelhttp transport so each
// agent POST shows up as a span.
func New(cfg config.Config, br *breaker.Breaker, re *retry.Executor) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Agent %s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		baseURL: strings.TrimRight(cfg.AgentsBaseURL, "/"),
		hc: &http.Client{
			Timeout:   cfg.AgentCallTimeout,
			Transport: transport,
		},
		breaker: br,
		retrier: re,
	}
}

// Call posts the payload to one agent, retrying transient failures. An open
// circuit or a missing endpoint fails without further attempts.
func (c *Client) Call(ctx domain.Context, agent domain.Agent, payload map[string]any, traceID string) (map[string]any, error) {
	if agent == domain.AgentDLQ {
		return map[string]any{"status": domain.StatusQueuedForDLQ}, nil
	}

	var out map[string]any
	err := c.retrier.Do(ctx, string(agent), func() error {
		res, cerr := c.callOnce(ctx, agent, payload, traceID)
		if cerr != nil {
			return cerr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callOnce(ctx domain.Context, agent domain.Agent, payload map[string]any, traceID string) (map[string]any, error) {
	if c.breaker.IsOpen(agent) {
		slog.Warn("circuit open, skipping agent",
			slog.String("agent", string(agent)),
			slog.String("trace_id", traceID))
		return nil, backoff.Permanent(fmt.Errorf("%w: agent %s", domain.ErrCircuitOpen, agent))
	}

	path, ok := agent.EndpointPath()
	if !ok {
		observability.DownstreamFailTotal.WithLabelValues(string(agent), "missing_endpoint").Inc()
		return nil, backoff.Permanent(fmt.Errorf("%w: agent %s", domain.ErrNoEndpoint, agent))
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("op=agent.Call: marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("op=agent.Call: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", traceID)

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.ObserveLatency("agent_call", string(agent), time.Since(start))
	if err != nil {
		c.recordFailure(agent, "call_error")
		slog.Error("agent call failed",
			slog.String("agent", string(agent)),
			slog.String("trace_id", traceID),
			slog.Any("error", err))
		return nil, fmt.Errorf("op=agent.Call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure(agent, "status_error")
		slog.Warn("agent returned non-2xx",
			slog.String("agent", string(agent)),
			slog.Int("status", resp.StatusCode),
			slog.String("trace_id", traceID))
		return nil, fmt.Errorf("%w: agent %s returned %d", domain.ErrUpstreamStatus, agent, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.recordFailure(agent, "call_error")
		return nil, fmt.Errorf("op=agent.Call: decode response: %w", err)
	}

	c.breaker.RecordSuccess(agent)
	observability.SetAgentHealth(string(agent), true)
	observability.DownstreamSuccessTotal.WithLabelValues(string(agent)).Inc()
	return decoded, nil
}

func (c *Client) recordFailure(agent domain.Agent, reason string) {
	c.breaker.RecordFailure(agent)
	observability.SetAgentHealth(string(agent), false)
	observability.DownstreamFailTotal.WithLabelValues(string(agent), reason).Inc()
}
