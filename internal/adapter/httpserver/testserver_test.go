package httpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/signalmesh/router/internal/adapter/agent"
	"github.com/signalmesh/router/internal/adapter/httpserver"
	"github.com/signalmesh/router/internal/config"
	"github.com/signalmesh/router/internal/domain"
	"github.com/signalmesh/router/internal/service/breaker"
	"github.com/signalmesh/router/internal/service/ratelimiter"
	"github.com/signalmesh/router/internal/service/retry"
	"github.com/signalmesh/router/internal/usecase"
)

// mockAgents is a fake downstream fleet. Status overrides let a test turn an
// agent unhealthy mid-flight.
type mockAgents struct {
	srv        *httptest.Server
	axisStatus atomic.Int32
	mStatus    atomic.Int32
	healthOK   atomic.Bool
	axisHits   atomic.Int32
	mHits      atomic.Int32
}

func newMockAgents(t *testing.T) *mockAgents {
	t.Helper()
	m := &mockAgents{}
	m.healthOK.Store(true)
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/route":
			m.axisHits.Add(1)
			if st := m.axisStatus.Load(); st != 0 {
				w.WriteHeader(int(st))
				return
			}
			writeBody(w, map[string]any{"agent": "Axis", "result": "handled"})
		case "/process":
			m.mHits.Add(1)
			if st := m.mStatus.Load(); st != 0 {
				w.WriteHeader(int(st))
				return
			}
			writeBody(w, map[string]any{"agent": "M", "result": "handled"})
		case "/health":
			if !m.healthOK.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeBody(w, map[string]any{"status": "ok", "agents": []string{"Axis", "M"}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// memLogs is an in-memory LogRepository.
type memLogs struct {
	mu   sync.Mutex
	recs map[string]domain.LogRecord
}

func newMemLogs() *memLogs { return &memLogs{recs: map[string]domain.LogRecord{}} }

func (m *memLogs) Get(_ domain.Context, logID string) (domain.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[logID]
	if !ok {
		return domain.LogRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memLogs) Exists(_ domain.Context, logID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[logID]
	return ok, nil
}

func (m *memLogs) Upsert(_ domain.Context, rec domain.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	m.recs[rec.LogID] = rec
	return nil
}

func (m *memLogs) ListBySender(_ domain.Context, senderID string, limit, offset int) ([]domain.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogRecord
	for _, rec := range m.recs {
		if rec.SenderID == senderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLogs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// memDLQ is an in-memory DLQRepository. CompleteReplay writes through to the
// shared memLogs the way the real repository commits both in one transaction.
type memDLQ struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.DLQEntry
	logs   *memLogs
}

func (m *memDLQ) Insert(_ domain.Context, logID string, reason domain.DLQReason, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.rows = append(m.rows, domain.DLQEntry{
		ID:      m.nextID,
		TS:      time.Now().UTC(),
		LogID:   logID,
		Reason:  reason,
		Payload: payload,
	})
	return nil
}

func (m *memDLQ) Count(_ domain.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func (m *memDLQ) Status(_ domain.Context) (domain.DLQStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.DLQStatus{Count: int64(len(m.rows))}
	unique := map[string]struct{}{}
	byReason := map[string]int64{}
	for _, row := range m.rows {
		if st.Oldest == nil || row.TS.Before(*st.Oldest) {
			ts := row.TS
			st.Oldest = &ts
		}
		if row.Attempts > st.MaxAttempts {
			st.MaxAttempts = row.Attempts
		}
		unique[row.LogID] = struct{}{}
		byReason[string(row.Reason)]++
	}
	st.UniqueLogs = int64(len(unique))
	for reason, count := range byReason {
		st.Reasons = append(st.Reasons, domain.DLQReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(st.Reasons, func(i, j int) bool { return st.Reasons[i].Count > st.Reasons[j].Count })
	return st, nil
}

func (m *memDLQ) FetchBatch(_ domain.Context, limit int) ([]domain.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DLQEntry, len(m.rows))
	copy(out, m.rows)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TS.Equal(out[j].TS) {
			return out[i].TS.Before(out[j].TS)
		}
		return out[i].Attempts < out[j].Attempts
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDLQ) Delete(_ domain.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memDLQ) IncrementAttempts(_ domain.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Attempts++
			return nil
		}
	}
	return nil
}

func (m *memDLQ) CompleteReplay(ctx domain.Context, id int64, rec domain.LogRecord) error {
	if err := m.logs.Upsert(ctx, rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memDLQ) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(domain.Context) error { return p.err }

// testEnv wires the full handler stack over in-memory storage and a fake
// agent fleet.
type testEnv struct {
	cfg     config.Config
	agents  *mockAgents
	logs    *memLogs
	dlq     *memDLQ
	pinger  *stubPinger
	handler http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	agents := newMockAgents(t)
	cfg := config.Config{
		APIKey:                  "secret",
		AgentsBaseURL:           agents.srv.URL,
		AgentCallTimeout:        2 * time.Second,
		MaxLogsLimit:            1000,
		RateLimitPerSecond:      100,
		RateLimitWindow:         time.Second,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
		RetryMaxAttempts:        3,
		RetryBackoffMin:         time.Millisecond,
		RetryBackoffMax:         5 * time.Millisecond,
		FanoutMaxConcurrency:    5,
		FanoutTaskTimeout:       time.Second,
		AutoReplayBatchSize:     50,
		AutoReplayInterval:      time.Hour,
	}
	for _, o := range opts {
		o(&cfg)
	}

	logs := newMemLogs()
	dlq := &memDLQ{logs: logs}
	pinger := &stubPinger{}

	br := breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
	re := retry.New(cfg.RetryMaxAttempts, cfg.RetryBackoffMin, cfg.RetryBackoffMax)
	caller := agent.New(cfg, br, re)
	checker := agent.NewHealthChecker(cfg)

	dlqSvc := usecase.DLQService{Repo: dlq, MaxAttempts: 3, BaseDelay: time.Millisecond}
	routeSvc := usecase.NewRouteService(logs, dlqSvc, caller, cfg.FanoutMaxConcurrency, cfg.FanoutTaskTimeout)
	logsSvc := usecase.NewLogsService(logs, cfg.MaxLogsLimit)
	replaySvc := usecase.NewReplayService(dlq, logs, checker, cfg.AutoReplayBatchSize, cfg.AutoReplayInterval)
	healthSvc := usecase.NewHealthService(pinger, br)
	limiter := ratelimiter.New(cfg.RateLimitPerSecond, cfg.RateLimitWindow)

	srv := httpserver.NewServer(cfg, routeSvc, logsSvc, dlqSvc, replaySvc, healthSvc, limiter)

	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Get("/health", srv.HealthHandler())
	r.Group(func(pr chi.Router) {
		pr.Use(httpserver.APIKeyAuth(cfg.APIKey))
		pr.Post("/route", srv.RouteHandler())
		pr.Get("/logs", srv.LogsHandler())
		pr.Get("/dlq/status", srv.DLQStatusHandler())
		pr.Post("/dlq/replay", srv.ReplayHandler())
	})

	return &testEnv{cfg: cfg, agents: agents, logs: logs, dlq: dlq, pinger: pinger, handler: r}
}
