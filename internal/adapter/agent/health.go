package agent

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/domain"
)

// HealthChecker probes the agents service health endpoint. The replay worker
// uses it as a gate before draining the DLQ.
type HealthChecker struct {
	url string
	hc  *http.Client
}

// NewHealthChecker builds a prober against {AgentsBaseURL}/health.
func NewHealthChecker(cfg config.Config) *HealthChecker {
	return &HealthChecker{
		url: strings.TrimRight(cfg.AgentsBaseURL, "/") + "/health",
		hc:  &http.Client{Timeout: 3 * time.Second},
	}
}

// Healthy reports whether the agents service answered 200 with status "ok".
func (h *HealthChecker) Healthy(ctx domain.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return false
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		slog.Warn("agents health probe failed", slog.Any("error", err))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "ok"
}
