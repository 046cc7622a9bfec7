// Package parallel provides bounded-concurrency fan-out used across the project.
package parallel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Execute runs fn over items with at most limit tasks in flight and a
// per-task wall-clock timeout. The result slice is aligned with items: a task
// that errors or times out leaves nil in its slot. Execute itself never
// fails; task errors never propagate past their slot.
func Execute[I, R any](ctx context.Context, items []I, limit int, timeout time.Duration, fn func(context.Context, I) (R, error)) []*R {
	results := make([]*R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan struct{})
			var (
				out R
				err error
			)
			go func() {
				out, err = fn(taskCtx, item)
				close(done)
			}()
			select {
			case <-done:
				if err == nil {
					results[i] = &out
				}
			case <-taskCtx.Done():
				// Slot stays nil. The task goroutine drains on its own once
				// fn honors the cancelled context.
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
