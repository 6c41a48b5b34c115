// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"sync"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// Queue is a bounded in-memory queue feeding the worker pool. Enqueue never
// blocks: a full queue is reported to the caller so the job can stay pending.
type Queue struct {
	ch      chan docjob.QueueItem
	closeMu sync.Mutex
	closed  bool
}

var _ docjob.Queue = (*Queue)(nil)

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{ch: make(chan docjob.QueueItem, capacity)}
}

// Enqueue pushes a job reference or fails fast when the queue is full.
func (q *Queue) Enqueue(ctx context.Context, jobID, tenantID string) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return docjob.ErrQueueFull
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- docjob.QueueItem{JobID: jobID, TenantID: tenantID}:
		return nil
	default:
		return docjob.ErrQueueFull
	}
}

// Dequeue exposes the item channel for the worker pool. The channel closes
// on shutdown.
func (q *Queue) Dequeue() <-chan docjob.QueueItem {
	return q.ch
}

// Close closes the underlying channel for shutdown. Safe to call twice.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
