package fetch_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacol/colfetch/internal/cache"
	"github.com/datacol/colfetch/internal/fetch"
)

// routedTransport maps request paths to outcomes, tracks in-flight high
// water, and optionally delays per path.
type routedTransport struct {
	mu        sync.Mutex
	outcomes  map[string]scriptStep
	delays    map[string]time.Duration
	inFlight  atomic.Int64
	highWater atomic.Int64
	calls     atomic.Int64
}

func (r *routedTransport) Send(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		high := r.highWater.Load()
		if cur <= high || r.highWater.CompareAndSwap(high, cur) {
			break
		}
	}
	r.calls.Add(1)

	r.mu.Lock()
	step, ok := r.outcomes[req.Path]
	delay := r.delays[req.Path]
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &fetch.Error{Kind: fetch.PermanentTransport, Op: "transport", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	if !ok {
		return jsonResponse(fmt.Sprintf(`{"path":%q}`, req.Path)), nil
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func batchRequests(n int) []fetch.Request {
	reqs := make([]fetch.Request, n)
	for i := range reqs {
		reqs[i] = fetch.Request{
			ResourceKey: "datos-abiertos",
			BaseURL:     "https://example.gov.co",
			Path:        fmt.Sprintf("/v1/datasets/%d", i),
		}
	}
	return reqs
}

func TestBatchFetch_Empty(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, &routedTransport{}, cache.NewMemoryStore(), fastPolicy(3))

	results, err := o.BatchFetch(context.Background(), nil, fetch.BatchOptions{})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestBatchFetch_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	// The middle item is the slowest; with full parallelism it completes
	// last, yet its result must land in its input slot.
	transport := &routedTransport{
		delays: map[string]time.Duration{"/v1/datasets/2": 50 * time.Millisecond},
	}
	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	reqs := batchRequests(5)
	results, err := o.BatchFetch(context.Background(), reqs, fetch.BatchOptions{MaxConcurrent: 5})
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, item := range results {
		assert.Equal(t, i, item.Index)
		require.NoError(t, item.Err)
		doc := item.Result.Payload.JSON.(map[string]any)
		assert.Equal(t, reqs[i].Path, doc["path"])
	}
}

func TestBatchFetch_SequentialGateKeepsOrder(t *testing.T) {
	t.Parallel()

	transport := &routedTransport{}
	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	reqs := batchRequests(6)
	results, err := o.BatchFetch(context.Background(), reqs, fetch.BatchOptions{MaxConcurrent: 1})
	require.NoError(t, err)

	assert.Equal(t, int64(1), transport.highWater.Load())
	for i, item := range results {
		require.NoError(t, item.Err)
		doc := item.Result.Payload.JSON.(map[string]any)
		assert.Equal(t, reqs[i].Path, doc["path"])
	}
}

func TestBatchFetch_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	transport := &routedTransport{delays: map[string]time.Duration{}}
	transport.mu.Lock()
	for i := 0; i < 12; i++ {
		transport.delays[fmt.Sprintf("/v1/datasets/%d", i)] = 20 * time.Millisecond
	}
	transport.mu.Unlock()

	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	_, err := o.BatchFetch(context.Background(), batchRequests(12), fetch.BatchOptions{MaxConcurrent: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, transport.highWater.Load(), int64(3))
}

func TestBatchFetch_PerItemFailureIsolation(t *testing.T) {
	t.Parallel()

	transport := &routedTransport{
		outcomes: map[string]scriptStep{
			"/v1/datasets/1": {err: permanent404()},
		},
	}
	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	results, err := o.BatchFetch(context.Background(), batchRequests(4), fetch.BatchOptions{})
	require.NoError(t, err, "without FailFast, item failures stay in their slots")
	require.Len(t, results, 4)

	for i, item := range results {
		if i == 1 {
			require.Error(t, item.Err)
			kind, ok := fetch.KindOf(item.Err)
			require.True(t, ok)
			assert.Equal(t, fetch.PermanentTransport, kind)
			assert.Nil(t, item.Result)
			continue
		}
		require.NoError(t, item.Err)
		assert.NotNil(t, item.Result)
	}
}

func TestBatchFetch_FailFast(t *testing.T) {
	t.Parallel()

	transport := &routedTransport{
		outcomes: map[string]scriptStep{
			"/v1/datasets/0": {err: permanent404()},
		},
		delays: map[string]time.Duration{
			"/v1/datasets/2": 200 * time.Millisecond,
			"/v1/datasets/3": 200 * time.Millisecond,
		},
	}
	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	start := time.Now()
	_, err := o.BatchFetch(context.Background(), batchRequests(4),
		fetch.BatchOptions{MaxConcurrent: 4, FailFast: true})
	require.Error(t, err)

	kind, ok := fetch.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetch.PermanentTransport, kind)
	assert.Less(t, time.Since(start), 150*time.Millisecond,
		"the first failure must cancel the slow items")
}

func TestBatchFetch_CallerCancellation(t *testing.T) {
	t.Parallel()

	transport := &routedTransport{delays: map[string]time.Duration{}}
	transport.mu.Lock()
	for i := 0; i < 4; i++ {
		transport.delays[fmt.Sprintf("/v1/datasets/%d", i)] = 300 * time.Millisecond
	}
	transport.mu.Unlock()

	o, _ := newOrchestrator(t, transport, cache.NewMemoryStore(), fastPolicy(3))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.BatchFetch(ctx, batchRequests(4), fetch.BatchOptions{MaxConcurrent: 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
