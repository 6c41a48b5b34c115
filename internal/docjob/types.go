// Package docjob owns the job state machine for documentation harvesting.
// The orchestrator here is the only writer of job status, progress, result
// and error; every other pipeline package is a pure transformer it invokes.
package docjob

import (
	"time"

	"github.com/google/uuid"

	"github.com/apiharbor/docpipe/internal/actiongen"
	"github.com/apiharbor/docpipe/internal/apidoc"
	"github.com/apiharbor/docpipe/internal/template"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses. Transitions are one-directional; Completed and Failed are
// terminal.
const (
	StatusPending    Status = "pending"
	StatusCrawling   Status = "crawling"
	StatusParsing    Status = "parsing"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InProgress reports whether the job is actively running a pipeline stage.
func (s Status) InProgress() bool {
	return s == StatusCrawling || s == StatusParsing || s == StatusGenerating
}

// stageOrder gives each non-terminal status a rank for transition checks.
var stageOrder = map[Status]int{
	StatusPending:    0,
	StatusCrawling:   1,
	StatusParsing:    2,
	StatusGenerating: 3,
	StatusCompleted:  4,
}

// CanTransition reports whether a job may move from one status to another.
// Failed is reachable from any non-terminal status.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fromRank, ok := stageOrder[from]
	if !ok {
		return false
	}
	toRank, ok := stageOrder[to]
	return ok && toRank > fromRank
}

// ErrorCode classifies a job failure.
type ErrorCode string

// Job failure classes. Fetch failure codes pass through unchanged.
const (
	CodeCancelled        ErrorCode = "cancelled"
	CodeTimeout          ErrorCode = "timeout"
	CodeNetwork          ErrorCode = "network_error"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeAccessDenied     ErrorCode = "access_denied"
	CodeNotFound         ErrorCode = "not_found"
	CodeInvalidURL       ErrorCode = "invalid_url"
	CodeNoContent        ErrorCode = "no_content"
	CodeExtractionFailed ErrorCode = "extraction_failed"
	CodeStale            ErrorCode = "stale"
	CodeInternal         ErrorCode = "internal"
)

// Error is the normalized failure recorded on a failed job.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}

// Result is the outcome recorded on a completed job.
type Result struct {
	Document      *apidoc.Document    `json:"document"`
	Actions       []actiongen.Action  `json:"actions"`
	Template      *template.Detection `json:"template,omitempty"`
	EndpointCount int                 `json:"endpoint_count"`
	// PreviousEndpointCount carries the pre-reanalysis count for comparison.
	PreviousEndpointCount int      `json:"previous_endpoint_count,omitempty"`
	FailedURLs            []string `json:"failed_urls,omitempty"`
}

// Job is one persisted harvesting run.
type Job struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	URL       string    `json:"url"`
	URLs      []string  `json:"urls,omitempty"` // explicit page list; skips mapping
	Wishlist  []string  `json:"wishlist,omitempty"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Result    *Result   `json:"result,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	CorpusKey string    `json:"corpus_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob builds a pending job for a tenant and target URL.
func NewJob(tenantID, url string, urls, wishlist []string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		URL:       url,
		URLs:      urls,
		Wishlist:  wishlist,
		Status:    StatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CompletionEvent is published when a job reaches a terminal status.
type CompletionEvent struct {
	JobID         string    `json:"job_id"`
	TenantID      string    `json:"tenant_id"`
	Status        Status    `json:"status"`
	EndpointCount int       `json:"endpoint_count"`
	At            time.Time `json:"at"`
}

// Validate checks the result/error invariants after a transition.
func (j *Job) Validate() error {
	switch {
	case j.Status == StatusCompleted && j.Result == nil:
		return errInvariant("completed job has no result")
	case j.Status != StatusCompleted && j.Result != nil:
		return errInvariant("result set on a non-completed job")
	case j.Status == StatusFailed && j.Error == nil:
		return errInvariant("failed job has no error")
	case j.Status != StatusFailed && j.Error != nil:
		return errInvariant("error set on a non-failed job")
	case j.Progress < 0 || j.Progress > 100:
		return errInvariant("progress out of range")
	}
	return nil
}

type errInvariant string

func (e errInvariant) Error() string { return "job invariant violated: " + string(e) }
