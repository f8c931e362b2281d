// Package memory is an in-memory JobQueue for tests and for running
// without Valkey configured.
package memory

import (
	"context"
	"sync"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

// Queue is a mutex-guarded FIFO with an in-flight set, mirroring the
// durable queue's at-least-once Ack/Nack contract closely enough for tests.
type Queue struct {
	mu       sync.Mutex
	pending  []evalcore.WorkItem
	inFlight map[string]evalcore.WorkItem
	notEmpty chan struct{}
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		inFlight: make(map[string]evalcore.WorkItem),
		notEmpty: make(chan struct{}, 1),
	}
}

// Enqueue appends item to the tail of the queue.
func (q *Queue) Enqueue(_ context.Context, item evalcore.WorkItem) error {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the head item and marks it in-flight, blocking while the
// queue is empty. ok is false when ctx is done before an item arrives, or
// when the item that woke it was already taken; callers should treat that as
// "no work right now", not an error.
func (q *Queue) Dequeue(ctx context.Context) (evalcore.WorkItem, bool, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return evalcore.WorkItem{}, false, nil
		case <-q.notEmpty:
		}
		q.mu.Lock()
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return evalcore.WorkItem{}, false, nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight[item.JobID] = item
	q.mu.Unlock()
	return item, true, nil
}

// Ack removes item from the in-flight set, marking it delivered.
func (q *Queue) Ack(_ context.Context, item evalcore.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, item.JobID)
	return nil
}

// Nack removes item from the in-flight set and, if redeliver is true,
// re-appends it to the tail of the queue.
func (q *Queue) Nack(_ context.Context, item evalcore.WorkItem, redeliver bool) error {
	q.mu.Lock()
	delete(q.inFlight, item.JobID)
	if redeliver {
		q.pending = append(q.pending, item)
	}
	q.mu.Unlock()
	if redeliver {
		select {
		case q.notEmpty <- struct{}{}:
		default:
		}
	}
	return nil
}

var _ evalcore.JobQueue = (*Queue)(nil)
