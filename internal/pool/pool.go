// Package pool implements a bounded-parallelism task runner with
// order-preserving results and cooperative cancellation.
package pool

import (
	"context"
	"sync"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Outcome is the result of one item, reported at the item's input index.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
	// Aborted marks items that never ran (or failed) because the pool-level
	// context was cancelled, distinguishing them from ordinary failures.
	Aborted bool
}

// Run executes worker over items with at most concurrency workers in flight.
// The bound is hard: it caps simultaneous workers, it is not a throughput
// target. Results come back in input order regardless of completion order.
//
// One item's failure never cancels its siblings; only cancellation of ctx
// stops the pool. Once ctx is done no new workers start, in-flight workers
// are expected to observe ctx and fail fast, and every outcome gathered so
// far is still returned.
func Run[T, R any](
	ctx context.Context,
	items []T,
	concurrency int,
	worker func(ctx context.Context, item T) (R, error),
) []Outcome[R] {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]Outcome[R], len(items))
	for i := range outcomes {
		outcomes[i].Index = i
	}
	if len(items) == 0 {
		return outcomes
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-ctx.Done():
			markAborted(outcomes[i:], ctx.Err())
			wg.Wait()
			return outcomes
		case sem <- struct{}{}:
			// The select races when both channels are ready; recheck so a
			// cancelled pool never starts another worker.
			if ctx.Err() != nil {
				<-sem
				markAborted(outcomes[i:], ctx.Err())
				wg.Wait()
				return outcomes
			}
		}

		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			defer func() { <-sem }()
			value, err := worker(ctx, it)
			outcomes[idx].Value = value
			outcomes[idx].Err = err
			outcomes[idx].Aborted = err != nil && catalog.KindOf(err) == catalog.ErrAborted
		}(i, item)
	}

	wg.Wait()
	return outcomes
}

func markAborted[R any](tail []Outcome[R], cause error) {
	for i := range tail {
		tail[i].Err = catalog.NewFetchError(catalog.ErrAborted, 0, 0, cause)
		tail[i].Aborted = true
	}
}
