package embedder

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	defaultBatchWindow  = 10 * time.Millisecond
	defaultMaxBatch     = 64
	defaultBatchTimeout = 30 * time.Second
)

// Batcher wraps a Provider and coalesces concurrent Embed calls into
// EmbedBatch requests.
//
// Calls arriving within the batching window are merged into one upstream
// request per action; identical in-flight texts share a single result via
// singleflight. Individual callers still honor their own context: a caller
// that cancels stops waiting, while the batch itself completes for the
// others.
type Batcher struct {
	provider Provider
	window   time.Duration
	maxBatch int
	timeout  time.Duration

	group  singleflight.Group
	mu     sync.Mutex
	queues map[Action]*actionQueue
	closed bool
}

type actionQueue struct {
	items []*batchItem
	timer *time.Timer
	ctx   context.Context
}

type batchItem struct {
	text   string
	result chan batchResult
}

type batchResult struct {
	vec []float64
	err error
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithWindow sets the coalescing window (default 10ms).
func WithWindow(window time.Duration) BatcherOption {
	return func(b *Batcher) {
		b.window = window
	}
}

// WithMaxBatch sets the batch size that forces an immediate flush
// (default 64).
func WithMaxBatch(n int) BatcherOption {
	return func(b *Batcher) {
		b.maxBatch = n
	}
}

// NewBatcher wraps provider in a coalescing batcher.
func NewBatcher(provider Provider, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider: provider,
		window:   defaultBatchWindow,
		maxBatch: defaultMaxBatch,
		timeout:  defaultBatchTimeout,
		queues:   make(map[Action]*actionQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Embed queues the text for the next coalesced batch and waits for its
// vector. Identical concurrent texts share one upstream slot.
func (b *Batcher) Embed(ctx context.Context, text string, action Action) ([]float64, error) {
	key := string(action) + "\x00" + text
	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		return b.enqueue(ctx, text, action)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// EmbedBatch bypasses coalescing; the caller already batched.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string, action Action) ([][]float64, error) {
	return b.provider.EmbedBatch(ctx, texts, action)
}

// Dimensions returns the wrapped provider's vector width.
func (b *Batcher) Dimensions() int {
	return b.provider.Dimensions()
}

// Close flushes pending batches and closes the wrapped provider.
func (b *Batcher) Close() error {
	b.mu.Lock()
	b.closed = true
	pending := make(map[Action][]*batchItem)
	contexts := make(map[Action]context.Context)
	for action, q := range b.queues {
		if q.timer != nil {
			q.timer.Stop()
		}
		pending[action] = q.items
		contexts[action] = q.ctx
		delete(b.queues, action)
	}
	b.mu.Unlock()

	for action, items := range pending {
		b.dispatch(contexts[action], action, items)
	}
	return b.provider.Close()
}

func (b *Batcher) enqueue(ctx context.Context, text string, action Action) ([]float64, error) {
	item := &batchItem{text: text, result: make(chan batchResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("embedder batcher is closed")
	}
	q := b.queues[action]
	if q == nil {
		q = &actionQueue{}
		b.queues[action] = q
	}
	if q.ctx == nil {
		// The batch outlives individual callers; detach cancellation but
		// keep the first caller's values for tracing.
		q.ctx = context.WithoutCancel(ctx)
	}
	q.items = append(q.items, item)

	var flushNow []*batchItem
	var flushCtx context.Context
	switch {
	case len(q.items) >= b.maxBatch:
		flushNow, flushCtx = b.takeLocked(action)
	case q.timer == nil:
		q.timer = time.AfterFunc(b.window, func() {
			b.flushAction(action)
		})
	}
	b.mu.Unlock()

	if flushNow != nil {
		b.dispatch(flushCtx, action, flushNow)
	}

	select {
	case res := <-item.result:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Batcher) flushAction(action Action) {
	b.mu.Lock()
	items, ctx := b.takeLocked(action)
	b.mu.Unlock()
	b.dispatch(ctx, action, items)
}

// takeLocked drains the action queue. Callers must hold the lock.
func (b *Batcher) takeLocked(action Action) ([]*batchItem, context.Context) {
	q := b.queues[action]
	if q == nil || len(q.items) == 0 {
		return nil, nil
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	items, ctx := q.items, q.ctx
	delete(b.queues, action)
	return items, ctx
}

// dispatch embeds the unique texts of a drained batch and fans results
// back out to every waiting item.
func (b *Batcher) dispatch(ctx context.Context, action Action, items []*batchItem) {
	if len(items) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	order := make([]string, 0, len(items))
	index := make(map[string][]int, len(items))
	for i, item := range items {
		if _, seen := index[item.text]; !seen {
			order = append(order, item.text)
		}
		index[item.text] = append(index[item.text], i)
	}
	telemetry.Default().EmbedderBatchSize.Observe(float64(len(order)))

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vectors, err := b.provider.EmbedBatch(callCtx, order, action)
	if err != nil {
		for _, item := range items {
			item.result <- batchResult{err: err}
		}
		return
	}
	for pos, text := range order {
		for _, i := range index[text] {
			items[i].result <- batchResult{vec: vectors[pos]}
		}
	}
}
