package fetch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds a batch when the caller does not.
const DefaultBatchConcurrency = 8

// BatchOptions configures a batch fetch.
type BatchOptions struct {
	// MaxConcurrent bounds in-flight fetches. Zero or negative uses
	// DefaultBatchConcurrency.
	MaxConcurrent int
	// FailFast cancels the remaining items on the first failure. The
	// default is per-item failure capture: one item's error never affects
	// the others.
	FailFast bool
}

// ItemResult is one slot of a batch outcome: either a successful Result
// or the item's classified error.
type ItemResult struct {
	// Index is the item's position in the input slice.
	Index int
	// Result is set on success.
	Result *Result
	// Err is set on failure.
	Err error
}

// BatchFetch fans out the requests under a bounded-concurrency gate and
// returns results in input order regardless of completion order.
//
// Admission control is shared with every other fetch in the process: a
// batch of fifty requests against one slow-budget source is throttled
// exactly as if issued sequentially. Batching changes parallelism, not
// the admission budget.
//
// The returned error is non-nil only when the batch machinery itself
// stops — caller cancellation, or the first failure in FailFast mode.
// Individual failures live in the per-item slots.
func (o *Orchestrator) BatchFetch(
	ctx context.Context,
	reqs []Request,
	opts BatchOptions,
) ([]ItemResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultBatchConcurrency
	}

	results := make([]ItemResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i := range reqs {
		i := i
		g.Go(func() error {
			result, err := o.Fetch(gctx, reqs[i])
			results[i] = ItemResult{Index: i, Result: result, Err: err}

			if opts.FailFast && err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("batch fetch: %w", err)
	}
	return results, nil
}
