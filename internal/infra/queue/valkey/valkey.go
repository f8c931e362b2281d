// Package valkey is a Valkey-backed JobQueue with explicit at-least-once
// Ack/Nack semantics, built around a reserved/processing list the way a
// reliable-queue pattern typically is: Dequeue atomically moves an item
// from the main list to a shared processing list, Ack removes it from
// there, and Nack either re-queues it or drops it, depending on the caller.
package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/candidateeval/evaluator-core/internal/domain/evalcore"
)

// Queue is a Valkey-backed evalcore.JobQueue.
type Queue struct {
	client      valkey.Client
	queueKey    string
	processing  string
	logger      *slog.Logger
	pollTimeout time.Duration
}

// New constructs a Queue. queueKey defaults to "evalcore:jobs" and is used
// to derive the processing-list key.
func New(client valkey.Client, queueKey string, logger *slog.Logger) *Queue {
	if queueKey == "" {
		queueKey = "evalcore:jobs"
	}
	return &Queue{
		client:      client,
		queueKey:    queueKey,
		processing:  queueKey + ":processing",
		logger:      logger.With("component", "queue.valkey"),
		pollTimeout: 5 * time.Second,
	}
}

// Enqueue pushes item onto the left end of the main list; Dequeue takes from
// the right end, so items come out in FIFO order.
func (q *Queue) Enqueue(ctx context.Context, item evalcore.WorkItem) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	cmd := q.client.B().Lpush().Key(q.queueKey).Element(string(encoded)).Build()
	return q.client.Do(ctx, cmd).Error()
}

// Dequeue atomically moves one item from the main list onto the processing
// list and returns it, blocking up to pollTimeout for an item to appear. ok
// is false when nothing arrived within the timeout: callers should treat
// that as an empty queue, not an error.
func (q *Queue) Dequeue(ctx context.Context) (evalcore.WorkItem, bool, error) {
	cmd := q.client.B().Blmove().
		Source(q.queueKey).Destination(q.processing).
		Right().Left().
		Timeout(q.pollTimeout.Seconds()).
		Build()
	resp := q.client.Do(ctx, cmd)
	raw, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return evalcore.WorkItem{}, false, nil
		}
		return evalcore.WorkItem{}, false, fmt.Errorf("dequeue work item: %w", err)
	}
	var item evalcore.WorkItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		q.logger.Warn("dropping unparseable queue payload", "error", err)
		return evalcore.WorkItem{}, false, nil
	}
	return item, true, nil
}

// Ack removes item from the processing list: it was handled, successfully
// or not, and should never be redelivered.
func (q *Queue) Ack(ctx context.Context, item evalcore.WorkItem) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	cmd := q.client.B().Lrem().Key(q.processing).Count(0).Element(string(encoded)).Build()
	return q.client.Do(ctx, cmd).Error()
}

// Nack removes item from the processing list and, if redeliver is true,
// pushes it back onto the main list for another worker to pick up.
func (q *Queue) Nack(ctx context.Context, item evalcore.WorkItem, redeliver bool) error {
	if err := q.Ack(ctx, item); err != nil {
		return err
	}
	if !redeliver {
		return nil
	}
	return q.Enqueue(ctx, item)
}

var _ evalcore.JobQueue = (*Queue)(nil)
