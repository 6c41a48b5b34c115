// Package memory provides in-process stores used by tests, the harvest CLI
// and deployments that have no external persistence configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/apiharbor/docpipe/internal/docjob"
)

// JobStore keeps jobs in a map guarded by a mutex. Values are copied on the
// way in and out so callers never share mutable state with the store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*docjob.Job
}

// NewJobStore builds an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*docjob.Job)}
}

var _ docjob.JobStore = (*JobStore)(nil)

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job *docjob.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = clone(job)
	return nil
}

// Get returns a job scoped to its tenant.
func (s *JobStore) Get(_ context.Context, tenantID, jobID string) (*docjob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, docjob.ErrNotFound
	}
	return clone(job), nil
}

// Update overwrites an existing job.
func (s *JobStore) Update(_ context.Context, job *docjob.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return docjob.ErrNotFound
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

// List returns a tenant's jobs, newest first.
func (s *JobStore) List(_ context.Context, tenantID string) ([]*docjob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*docjob.Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			out = append(out, clone(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListByStatus returns jobs in any of the given statuses last updated before
// the cutoff.
func (s *JobStore) ListByStatus(_ context.Context, statuses []docjob.Status, updatedBefore time.Time) ([]*docjob.Job, error) {
	want := make(map[docjob.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*docjob.Job
	for _, job := range s.jobs {
		if want[job.Status] && job.UpdatedAt.Before(updatedBefore) {
			out = append(out, clone(job))
		}
	}
	return out, nil
}

// Delete removes a job scoped to its tenant.
func (s *JobStore) Delete(_ context.Context, tenantID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return docjob.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

// FindCompletedByURL returns the most recent completed job for the URL.
func (s *JobStore) FindCompletedByURL(_ context.Context, tenantID, normalizedURL string) (*docjob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *docjob.Job
	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.URL != normalizedURL || job.Status != docjob.StatusCompleted {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, docjob.ErrNotFound
	}
	return clone(best), nil
}

func clone(job *docjob.Job) *docjob.Job {
	copied := *job
	return &copied
}
