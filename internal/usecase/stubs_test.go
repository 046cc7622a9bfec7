package usecase_test

import (
	"sync"

	"github.com/signalmesh/router/internal/domain"
)

// Hand-rolled port fakes shared by the service tests in this package.

type listCall struct {
	sender string
	limit  int
	offset int
}

type stubLogs struct {
	mu        sync.Mutex
	recs      map[string]domain.LogRecord
	upserts   []domain.LogRecord
	getErr    error
	existsErr error
	upsertErr error

	lists    []listCall
	listRecs []domain.LogRecord
	listErr  error
}

func (s *stubLogs) Get(_ domain.Context, logID string) (domain.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.LogRecord{}, s.getErr
	}
	rec, ok := s.recs[logID]
	if !ok {
		return domain.LogRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *stubLogs) Exists(_ domain.Context, logID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.recs[logID]
	return ok, nil
}

func (s *stubLogs) Upsert(_ domain.Context, rec domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, rec)
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if s.recs == nil {
		s.recs = map[string]domain.LogRecord{}
	}
	s.recs[rec.LogID] = rec
	return nil
}

func (s *stubLogs) ListBySender(_ domain.Context, senderID string, limit, offset int) ([]domain.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = append(s.lists, listCall{senderID, limit, offset})
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listRecs, nil
}

type dlqInsert struct {
	logID   string
	reason  domain.DLQReason
	payload map[string]any
}

type completedReplay struct {
	id  int64
	rec domain.LogRecord
}

type stubDLQ struct {
	mu        sync.Mutex
	inserts   []dlqInsert
	failFirst int
	insertErr error

	count    int64
	countErr error
	// countEntered/countRelease let a test hold a replay run open mid-flight.
	countEntered chan struct{}
	countRelease chan struct{}

	batch    []domain.DLQEntry
	fetchErr error

	deleted     []int64
	deleteErr   error
	bumped      []int64
	bumpErr     error
	completed   []completedReplay
	completeErr error

	status    domain.DLQStatus
	statusErr error
}

func (s *stubDLQ) Insert(_ domain.Context, logID string, reason domain.DLQReason, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, dlqInsert{logID, reason, payload})
	if s.failFirst > 0 {
		s.failFirst--
		return domain.ErrInternal
	}
	return s.insertErr
}

func (s *stubDLQ) Count(_ domain.Context) (int64, error) {
	if s.countEntered != nil {
		s.countEntered <- struct{}{}
	}
	if s.countRelease != nil {
		<-s.countRelease
	}
	return s.count, s.countErr
}

func (s *stubDLQ) Status(_ domain.Context) (domain.DLQStatus, error) {
	return s.status, s.statusErr
}

func (s *stubDLQ) FetchBatch(_ domain.Context, limit int) ([]domain.DLQEntry, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if limit < len(s.batch) {
		return s.batch[:limit], nil
	}
	return s.batch, nil
}

func (s *stubDLQ) Delete(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubDLQ) IncrementAttempts(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bumpErr != nil {
		return s.bumpErr
	}
	s.bumped = append(s.bumped, id)
	return nil
}

func (s *stubDLQ) CompleteReplay(_ domain.Context, id int64, rec domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, completedReplay{id, rec})
	return nil
}

type agentCall struct {
	agent   domain.Agent
	payload map[string]any
	traceID string
}

type stubCaller struct {
	mu    sync.Mutex
	calls []agentCall
	fail  map[domain.Agent]error
	resp  map[domain.Agent]map[string]any
}

func (c *stubCaller) Call(_ domain.Context, agent domain.Agent, payload map[string]any, traceID string) (map[string]any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, agentCall{agent, payload, traceID})
	c.mu.Unlock()
	if err := c.fail[agent]; err != nil {
		return nil, err
	}
	if r, ok := c.resp[agent]; ok {
		return r, nil
	}
	return map[string]any{"status": "ok", "agent": string(agent)}, nil
}

func (c *stubCaller) callsFor(agent domain.Agent) []agentCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []agentCall
	for _, call := range c.calls {
		if call.agent == agent {
			out = append(out, call)
		}
	}
	return out
}

type stubHealth struct{ healthy bool }

func (s stubHealth) Healthy(domain.Context) bool { return s.healthy }
