// Package ratelimiter admits requests per sender over a sliding window of
// one-second counting buckets. State is in-process; each replica enforces its
// own budget.
package ratelimiter

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/signalmesh/router/internal/adapter/observability"
)

// UnknownSender is the shared bucket for requests without a sender id.
const UnknownSender = "unknown"

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	windows map[string]map[int64]int
}

// Limiter admits up to limitPerSecond * window requests per sender within a
// rolling window. Senders hash onto shards so hot senders do not contend on
// a global lock.
type Limiter struct {
	limitPerSecond int
	windowSeconds  int64
	shards         [shardCount]*shard
}

// New builds a Limiter. The window is truncated to whole seconds.
func New(limitPerSecond int, window time.Duration) *Limiter {
	l := &Limiter{
		limitPerSecond: limitPerSecond,
		windowSeconds:  int64(window / time.Second),
	}
	if l.windowSeconds < 1 {
		l.windowSeconds = 1
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]map[int64]int)}
	}
	return l
}

func (l *Limiter) shardFor(senderID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return l.shards[h.Sum32()%shardCount]
}

// Allow reports whether a request from senderID is admitted right now and,
// if so, counts it. An empty sender shares the "unknown" bucket. Rejections
// are counted under reason=rate_limit.
func (l *Limiter) Allow(senderID string) bool {
	if senderID == "" {
		senderID = UnknownSender
	}
	now := time.Now().Unix()
	cutoff := now - l.windowSeconds

	s := l.shardFor(senderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	win, ok := s.windows[senderID]
	if !ok {
		win = make(map[int64]int)
		s.windows[senderID] = win
	}
	total := 0
	for ts, count := range win {
		if ts <= cutoff {
			delete(win, ts)
			continue
		}
		total += count
	}
	if int64(total) >= int64(l.limitPerSecond)*l.windowSeconds {
		observability.RecordRejection("rate_limit")
		return false
	}
	win[now]++
	return true
}
