package docjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/triage"
)

// ServiceConfig tunes job admission and caching.
type ServiceConfig struct {
	// MinCachedEndpoints is the endpoint count below which a completed job is
	// not trusted as a cache hit, guarding against degraded extractions.
	MinCachedEndpoints int
	// EstimatedDuration is returned to callers on fresh job creation.
	EstimatedDuration time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.MinCachedEndpoints <= 0 {
		c.MinCachedEndpoints = 1
	}
	if c.EstimatedDuration <= 0 {
		c.EstimatedDuration = 90 * time.Second
	}
}

// Service is the caller-facing surface over the job machinery: admission with
// cache lookup, queueing, cancellation, reanalysis and stale cleanup.
type Service struct {
	jobs   JobStore
	queue  Queue
	orch   *Orchestrator
	cfg    ServiceConfig
	logger *zap.Logger

	// cancels maps running job IDs to their context cancel functions so
	// in-flight crawl loops can observe cancellation between fetches.
	cancels sync.Map
}

// NewService wires a Service.
func NewService(jobs JobStore, queue Queue, orch *Orchestrator, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Service{jobs: jobs, queue: queue, orch: orch, cfg: cfg, logger: logger}
}

// CreateRequest describes a job submission.
type CreateRequest struct {
	TenantID string   `json:"tenant_id"`
	URL      string   `json:"url"`
	URLs     []string `json:"urls,omitempty"`
	Wishlist []string `json:"wishlist,omitempty"`
	// Force skips the completed-job cache and always runs a fresh crawl.
	Force bool `json:"force,omitempty"`
}

// CreateResponse is the admission outcome.
type CreateResponse struct {
	Job                 *Job  `json:"job"`
	EstimatedDurationMs int64 `json:"estimated_duration_ms"`
	CacheHit            bool  `json:"cache_hit"`
}

// CreateJob admits a job. A prior completed job for the same (tenant, URL)
// with enough endpoints is returned as a cache hit with a zero estimate;
// otherwise a pending job is persisted and enqueued for the worker pool.
func (s *Service) CreateJob(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if req.URL == "" && len(req.URLs) == 0 {
		return nil, fmt.Errorf("a url or an explicit url list is required")
	}

	rootURL := req.URL
	if rootURL == "" {
		rootURL = req.URLs[0]
	}
	normalized, err := triage.NormalizeURL(rootURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rootURL, err)
	}

	if !req.Force {
		if cached, err := s.jobs.FindCompletedByURL(ctx, req.TenantID, normalized); err == nil {
			if cached.Result != nil && cached.Result.EndpointCount >= s.cfg.MinCachedEndpoints {
				s.logger.Info("returning cached job",
					zap.String("job_id", cached.ID),
					zap.String("url", normalized))
				return &CreateResponse{Job: cached, EstimatedDurationMs: 0, CacheHit: true}, nil
			}
			// Degraded prior result: fall through to a fresh run.
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
	}

	job := NewJob(req.TenantID, normalized, req.URLs, req.Wishlist)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID, job.TenantID); err != nil {
		// The pending record stays; callers may retry or the operator can
		// requeue once there is capacity.
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	s.logger.Info("job enqueued", zap.String("job_id", job.ID), zap.String("url", normalized))
	return &CreateResponse{Job: job, EstimatedDurationMs: s.cfg.EstimatedDuration.Milliseconds()}, nil
}

// GetJob returns one job scoped to its tenant.
func (s *Service) GetJob(ctx context.Context, tenantID, jobID string) (*Job, error) {
	return s.jobs.Get(ctx, tenantID, jobID)
}

// ListJobs returns all jobs for a tenant.
func (s *Service) ListJobs(ctx context.Context, tenantID string) ([]*Job, error) {
	return s.jobs.List(ctx, tenantID)
}

// DeleteJob removes a job record.
func (s *Service) DeleteJob(ctx context.Context, tenantID, jobID string) error {
	return s.jobs.Delete(ctx, tenantID, jobID)
}

// Run executes one job under a cancellable context registered for CancelJob.
// The worker pool calls this for every dequeued item.
func (s *Service) Run(ctx context.Context, tenantID, jobID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancels.Store(jobID, cancel)
	defer func() {
		s.cancels.Delete(jobID)
		cancel()
	}()
	return s.orch.Process(runCtx, tenantID, jobID)
}

// CancelJob stops a pending or running job. Running jobs are cancelled
// cooperatively: the context fires and the crawl loop observes it between
// fetches, so the terminal write comes from the orchestrator. Jobs not yet
// picked up are failed directly.
func (s *Service) CancelJob(ctx context.Context, tenantID, jobID string) error {
	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	if cancel, ok := s.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
		s.logger.Info("cancellation signalled", zap.String("job_id", jobID))
		return nil
	}

	job.Status = StatusFailed
	job.Result = nil
	job.Error = &Error{
		Code:      CodeCancelled,
		Message:   "cancelled before processing started",
		Retryable: true,
		At:        time.Now().UTC(),
	}
	job.UpdatedAt = time.Now().UTC()
	if err := job.Validate(); err != nil {
		return err
	}
	return s.jobs.Update(ctx, job)
}

// ReanalyzeJob re-runs parsing and generation over a terminal job's cached
// corpus.
func (s *Service) ReanalyzeJob(ctx context.Context, tenantID, jobID string) error {
	return s.orch.Reprocess(ctx, tenantID, jobID)
}

// CleanupStale fails in-progress jobs that have not advanced within the
// cutoff, typically after a crash left them orphaned. Returns the number of
// jobs failed.
func (s *Service) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	stale, err := s.jobs.ListByStatus(ctx,
		[]Status{StatusCrawling, StatusParsing, StatusGenerating}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		job.Status = StatusFailed
		job.Result = nil
		job.Error = &Error{
			Code:      CodeStale,
			Message:   fmt.Sprintf("no progress since %s", job.UpdatedAt.Format(time.RFC3339)),
			Retryable: true,
			At:        time.Now().UTC(),
		}
		job.UpdatedAt = time.Now().UTC()
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Warn("stale cleanup update failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		failed++
	}
	if failed > 0 {
		s.logger.Info("stale jobs failed out", zap.Int("count", failed))
	}
	return failed, nil
}
