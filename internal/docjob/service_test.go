package docjob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []QueueItem
	full  bool
	ch    chan QueueItem
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan QueueItem, 16)}
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID, tenantID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return ErrQueueFull
	}
	item := QueueItem{JobID: jobID, TenantID: tenantID}
	q.items = append(q.items, item)
	q.ch <- item
	return nil
}

func (q *fakeQueue) Dequeue() <-chan QueueItem { return q.ch }

func (q *fakeQueue) Close() { close(q.ch) }

type svcFixture struct {
	*orchFixture
	queue *fakeQueue
	svc   *Service
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	f := &svcFixture{orchFixture: newOrchFixture(t), queue: newFakeQueue()}
	f.svc = NewService(f.store, f.queue, f.orch,
		ServiceConfig{MinCachedEndpoints: 1}, zap.NewNop())
	return f
}

func TestCreateJob_EnqueuesPending(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), CreateRequest{
		TenantID: "tenant-a",
		URL:      "https://Docs.Example.com/",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, resp.Job.Status)
	require.False(t, resp.CacheHit)
	require.Positive(t, resp.EstimatedDurationMs)
	require.Equal(t, "https://docs.example.com", resp.Job.URL, "url is normalized on admission")
	require.Len(t, f.queue.items, 1)
	require.Equal(t, resp.Job.ID, f.queue.items[0].JobID)
}

func TestCreateJob_CacheHit(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", first.Job.ID))

	second, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Job.ID, second.Job.ID)
	require.Zero(t, second.EstimatedDurationMs)
	require.Len(t, f.queue.items, 1, "cache hits are not re-enqueued")
}

func TestCreateJob_ForceBypassesCache(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", first.Job.ID))

	fresh, err := f.svc.CreateJob(ctx, CreateRequest{
		TenantID: "tenant-a",
		URL:      "https://docs.example.com",
		Force:    true,
	})
	require.NoError(t, err)
	require.False(t, fresh.CacheHit)
	require.NotEqual(t, first.Job.ID, fresh.Job.ID)
}

func TestCreateJob_DegradedResultIsNotACacheHit(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	f.svc.cfg.MinCachedEndpoints = 3
	ctx := context.Background()

	first, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", first.Job.ID))

	// The completed run extracted 2 endpoints, below the threshold of 3.
	second, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.False(t, second.CacheHit)
	require.NotEqual(t, first.Job.ID, second.Job.ID)
}

func TestCreateJob_CacheIsTenantScoped(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", first.Job.ID))

	other, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-b", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.False(t, other.CacheHit)
}

func TestCreateJob_QueueFull(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	f.queue.full = true

	_, err := f.svc.CreateJob(context.Background(), CreateRequest{
		TenantID: "tenant-a",
		URL:      "https://docs.example.com",
	})
	require.ErrorIs(t, err, ErrQueueFull)

	// The pending record survives for a later retry.
	jobs, err := f.svc.ListJobs(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, StatusPending, jobs[0].Status)
}

func TestCreateJob_Validation(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	_, err := f.svc.CreateJob(context.Background(), CreateRequest{URL: "https://docs.example.com"})
	require.Error(t, err, "tenant is required")

	_, err = f.svc.CreateJob(context.Background(), CreateRequest{TenantID: "tenant-a"})
	require.Error(t, err, "url is required")

	_, err = f.svc.CreateJob(context.Background(), CreateRequest{TenantID: "tenant-a", URL: "not a url"})
	require.Error(t, err)
}

func TestCancelJob_PendingJobFailsDirectly(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), CreateRequest{
		TenantID: "tenant-a",
		URL:      "https://docs.example.com",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelJob(context.Background(), "tenant-a", resp.Job.ID))

	got, err := f.svc.GetJob(context.Background(), "tenant-a", resp.Job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, CodeCancelled, got.Error.Code)
	require.True(t, got.Error.Retryable)
}

func TestCancelJob_TerminalJobRejected(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()
	resp, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", resp.Job.ID))

	require.Error(t, f.svc.CancelJob(ctx, "tenant-a", resp.Job.ID))
}

func TestCancelJob_RunningJobSignalsContext(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()
	resp, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	f.svc.cancels.Store(resp.Job.ID, cancel)
	defer f.svc.cancels.Delete(resp.Job.ID)

	require.NoError(t, f.svc.CancelJob(ctx, "tenant-a", resp.Job.ID))
	require.Error(t, runCtx.Err(), "cancel must fire the job context")

	// The terminal write is left to the running orchestrator.
	got, err := f.svc.GetJob(ctx, "tenant-a", resp.Job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCleanupStale(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()

	stale := NewJob("tenant-a", "https://docs.example.com/stale", nil, nil)
	stale.Status = StatusCrawling
	stale.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.store.Create(ctx, stale))

	fresh := NewJob("tenant-a", "https://docs.example.com/fresh", nil, nil)
	fresh.Status = StatusParsing
	require.NoError(t, f.store.Create(ctx, fresh))

	count, err := f.svc.CleanupStale(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := f.svc.GetJob(ctx, "tenant-a", stale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, CodeStale, got.Error.Code)
	require.True(t, got.Error.Retryable)

	untouched, err := f.svc.GetJob(ctx, "tenant-a", fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusParsing, untouched.Status)
}

func TestReanalyzeJob_DelegatesToOrchestrator(t *testing.T) {
	t.Parallel()

	f := newSvcFixture(t)
	ctx := context.Background()
	resp, err := f.svc.CreateJob(ctx, CreateRequest{TenantID: "tenant-a", URL: "https://docs.example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, "tenant-a", resp.Job.ID))

	f.extractor.doc = sampleDoc(4)
	require.NoError(t, f.svc.ReanalyzeJob(ctx, "tenant-a", resp.Job.ID))

	got, err := f.svc.GetJob(ctx, "tenant-a", resp.Job.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.Result.EndpointCount)
	require.Equal(t, 2, got.Result.PreviousEndpointCount)
}
