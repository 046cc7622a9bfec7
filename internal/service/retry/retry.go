// Package retry wraps downstream operations with bounded attempts and
// exponential backoff. Non-retryable conditions short-circuit by returning
// backoff.Permanent from the operation.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalmesh/router/internal/adapter/observability"
)

// Executor retries failed operations up to a fixed attempt budget.
type Executor struct {
	maxAttempts int
	min         time.Duration
	max         time.Duration
}

// New builds an Executor. maxAttempts below 1 is treated as 1.
func New(maxAttempts int, min, max time.Duration) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{maxAttempts: maxAttempts, min: min, max: max}
}

// Do runs op with up to maxAttempts tries, doubling the wait from min up to
// the max cap between failures. Every attempt and outcome is counted under
// the service label. The last error surfaces unchanged.
func (e *Executor) Do(ctx context.Context, service string, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.min
	expo.MaxInterval = e.max
	expo.Multiplier = 2
	// Attempts bound the retry loop, not wall time.
	expo.MaxElapsedTime = 0

	wrapped := func() error {
		observability.RetryAttemptsTotal.WithLabelValues(service, "attempt").Inc()
		if err := op(); err != nil {
			observability.RetryAttemptsTotal.WithLabelValues(service, "failure").Inc()
			return err
		}
		observability.RetryAttemptsTotal.WithLabelValues(service, "success").Inc()
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(e.maxAttempts-1)), ctx)
	return backoff.Retry(wrapped, bo)
}
