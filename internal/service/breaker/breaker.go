// Package breaker gates calls to downstream agents. One Breaker tracks every
// agent independently: consecutive failures past a threshold open that
// agent's circuit for a recovery window, after which it closes again with a
// clean failure count. There is no half-open probing state.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/domain"
)

type agentState struct {
	mu           sync.Mutex
	failureCount int
	openUntil    time.Time
}

// Breaker holds circuit state for all agents. Safe for concurrent use; each
// agent's state is guarded by its own mutex.
type Breaker struct {
	mu        sync.RWMutex
	agents    map[domain.Agent]*agentState
	threshold int
	recovery  time.Duration
}

// New returns a Breaker that opens an agent's circuit after threshold
// consecutive failures and keeps it open for the recovery window.
func New(threshold int, recovery time.Duration) *Breaker {
	return &Breaker{
		agents:    make(map[domain.Agent]*agentState),
		threshold: threshold,
		recovery:  recovery,
	}
}

func (b *Breaker) state(agent domain.Agent) *agentState {
	b.mu.RLock()
	s, ok := b.agents[agent]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.agents[agent]; ok {
		return s
	}
	s = &agentState{}
	b.agents[agent] = s
	return s
}

// IsOpen reports whether the agent's circuit is open. An expired window is
// cleared on sight and the failure count reset to zero.
func (b *Breaker) IsOpen(agent domain.Agent) bool {
	s := b.state(agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openUntil.IsZero() {
		return false
	}
	if time.Now().Before(s.openUntil) {
		return true
	}
	s.openUntil = time.Time{}
	s.failureCount = 0
	return false
}

// RecordSuccess clears the agent's failure count.
func (b *Breaker) RecordSuccess(agent domain.Agent) {
	s := b.state(agent)
	s.mu.Lock()
	s.failureCount = 0
	s.mu.Unlock()
}

// RecordFailure increments the agent's failure count. At or past the
// threshold the circuit opens (or re-arms) for the recovery window.
func (b *Breaker) RecordFailure(agent domain.Agent) {
	s := b.state(agent)
	s.mu.Lock()
	s.failureCount++
	tripped := s.failureCount >= b.threshold
	if tripped {
		s.openUntil = time.Now().Add(b.recovery)
	}
	failures := s.failureCount
	s.mu.Unlock()

	if tripped {
		observability.CircuitBreakerTripsTotal.WithLabelValues(string(agent)).Inc()
		slog.Warn("circuit opened",
			slog.String("agent", string(agent)),
			slog.Int("failures", failures),
			slog.Duration("recovery", b.recovery))
	}
}

// Failures returns the agent's current consecutive failure count.
func (b *Breaker) Failures(agent domain.Agent) int {
	s := b.state(agent)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}
