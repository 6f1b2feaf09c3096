package intelligence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	// defaultWritebackQueueSize bounds the retention write-back queue.
	defaultWritebackQueueSize = 256

	// writebackTimeout bounds one write-back round trip against the store.
	writebackTimeout = 5 * time.Second
)

// WritebackTask asks the worker to reinforce one memory's retention state.
type WritebackTask struct {
	// Store is the vector store holding the memory.
	Store storage.VectorStore

	// MemoryID identifies the accessed memory.
	MemoryID int64

	// AccessedAt is when the memory was surfaced. Zero means now.
	AccessedAt time.Time
}

// WritebackWorker persists retention reinforcement for memories surfaced by
// search, off the query path.
//
// Search results must not wait on store writes, so accessed memory ids are
// queued and a single background goroutine applies the reinforcement:
// load, reinforce against the decay clock, store the updated retention
// block. The queue is bounded; when full, the oldest queued task is
// discarded so recent accesses win. Retention counts are approximate by
// nature and tolerate drops.
//
// Example usage:
//
//	worker := NewWritebackWorker(retention, 0)
//	defer worker.Close()
//	worker.Enqueue(WritebackTask{Store: store, MemoryID: id})
type WritebackWorker struct {
	retention *RetentionManager

	mu     sync.RWMutex
	closed bool
	tasks  chan WritebackTask

	wg sync.WaitGroup
}

// NewWritebackWorker creates and starts a write-back worker. A non-positive
// queueSize selects the default.
func NewWritebackWorker(retention *RetentionManager, queueSize int) *WritebackWorker {
	if queueSize <= 0 {
		queueSize = defaultWritebackQueueSize
	}
	if retention == nil {
		retention = NewRetentionManager(nil)
	}

	w := &WritebackWorker{
		retention: retention,
		tasks:     make(chan WritebackTask, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue queues a reinforcement task without blocking. When the queue is
// full the oldest queued task is dropped to make room. Returns false when
// the task could not be queued or the worker is closed.
func (w *WritebackWorker) Enqueue(task WritebackTask) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.tasks <- task:
		return true
	default:
	}

	// Queue full: evict the oldest task, then retry once. Another producer
	// may win the freed slot, in which case this task is the one dropped.
	select {
	case <-w.tasks:
		telemetry.Default().RecordRetentionWriteback("dropped")
	default:
	}
	select {
	case w.tasks <- task:
		return true
	default:
		telemetry.Default().RecordRetentionWriteback("dropped")
		return false
	}
}

// QueueDepth returns the number of tasks waiting to be applied.
func (w *WritebackWorker) QueueDepth() int {
	return len(w.tasks)
}

// Close stops accepting tasks, drains the queue, and waits for the worker
// goroutine to exit. Safe to call more than once.
func (w *WritebackWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.tasks)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *WritebackWorker) run() {
	defer w.wg.Done()
	for task := range w.tasks {
		w.apply(task)
	}
}

// apply performs one reinforcement round trip: load, reinforce, store.
func (w *WritebackWorker) apply(task WritebackTask) {
	if task.Store == nil || task.MemoryID == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writebackTimeout)
	defer cancel()

	mem, err := task.Store.Get(ctx, task.MemoryID)
	if err != nil {
		if errors.Is(err, memerr.ErrNotFound) {
			// Deleted between search and write-back.
			telemetry.Default().RecordRetentionWriteback("skipped")
			return
		}
		log.Warn().Err(err).Int64("memory_id", task.MemoryID).
			Msg("retention write-back load failed")
		telemetry.Default().RecordRetentionWriteback("error")
		return
	}

	state, ok := RetentionFromMetadata(mem.Metadata)
	if !ok {
		telemetry.Default().RecordRetentionWriteback("skipped")
		return
	}

	at := task.AccessedAt
	if at.IsZero() {
		at = time.Now()
	}
	w.retention.Reinforce(state, at)

	if _, err := task.Store.Update(ctx, task.MemoryID, &storage.MemoryUpdate{
		Metadata: state.ApplyToMetadata(mem.Metadata),
	}); err != nil {
		log.Warn().Err(err).Int64("memory_id", task.MemoryID).
			Msg("retention write-back store failed")
		telemetry.Default().RecordRetentionWriteback("error")
		return
	}
	telemetry.Default().RecordRetentionWriteback("applied")
}
