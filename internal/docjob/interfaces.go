package docjob

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store and queue implementations.
var (
	ErrNotFound  = errors.New("job not found")
	ErrQueueFull = errors.New("job queue is full")
)

// JobStore persists jobs. Get and Delete are tenant-scoped; a job is never
// visible to another tenant.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, tenantID, jobID string) (*Job, error)
	Update(ctx context.Context, job *Job) error
	List(ctx context.Context, tenantID string) ([]*Job, error)
	ListByStatus(ctx context.Context, statuses []Status, updatedBefore time.Time) ([]*Job, error)
	Delete(ctx context.Context, tenantID, jobID string) error
	// FindCompletedByURL returns the most recent completed job for the
	// normalized URL, or ErrNotFound.
	FindCompletedByURL(ctx context.Context, tenantID, normalizedURL string) (*Job, error)
}

// CorpusMeta travels with a stored corpus.
type CorpusMeta struct {
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	SourceURLs []string  `json:"source_urls,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
}

// CorpusStore caches raw crawled corpora keyed per job. Store failures are
// non-fatal to the pipeline; Retrieve failures block only reanalysis.
type CorpusStore interface {
	Store(ctx context.Context, jobID, content string, meta CorpusMeta) (string, error)
	Retrieve(ctx context.Context, key string) (string, error)
}

// Publisher emits completion events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// Queue hands job IDs to the worker pool. Enqueue returns ErrQueueFull
// rather than blocking.
type Queue interface {
	Enqueue(ctx context.Context, jobID, tenantID string) error
	Dequeue() <-chan QueueItem
	Close()
}

// QueueItem references one enqueued job.
type QueueItem struct {
	JobID    string
	TenantID string
}
