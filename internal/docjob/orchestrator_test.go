package docjob

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
	"github.com/apiharbor/docpipe/internal/crawlrun"
	"github.com/apiharbor/docpipe/internal/fetch"
	"github.com/apiharbor/docpipe/internal/llm"
	"github.com/apiharbor/docpipe/internal/template"
	"github.com/apiharbor/docpipe/internal/triage"
)

// --- fakes shared across the package tests ---

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*Job{}}
}

func (s *fakeJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, tenantID, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeJobStore) List(_ context.Context, tenantID string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeJobStore) ListByStatus(_ context.Context, statuses []Status, updatedBefore time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	var out []*Job
	for _, job := range s.jobs {
		if want[job.Status] && job.UpdatedAt.Before(updatedBefore) {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeJobStore) Delete(_ context.Context, tenantID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *fakeJobStore) FindCompletedByURL(_ context.Context, tenantID, normalizedURL string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Job
	for _, job := range s.jobs {
		if job.TenantID != tenantID || job.URL != normalizedURL || job.Status != StatusCompleted {
			continue
		}
		if best == nil || job.CreatedAt.After(best.CreatedAt) {
			best = job
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

type fakeCorpusStore struct {
	mu       sync.Mutex
	contents map[string]string
	failPut  bool
}

func newFakeCorpusStore() *fakeCorpusStore {
	return &fakeCorpusStore{contents: map[string]string{}}
}

func (s *fakeCorpusStore) Store(_ context.Context, jobID, content string, _ CorpusMeta) (string, error) {
	if s.failPut {
		return "", fmt.Errorf("blob store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "corpus/" + jobID
	s.contents[key] = content
	return key, nil
}

func (s *fakeCorpusStore) Retrieve(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.contents[key]
	if !ok {
		return "", fmt.Errorf("no corpus at %s", key)
	}
	return content, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []CompletionEvent
}

func (p *fakePublisher) Publish(_ context.Context, event CompletionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) last(t *testing.T) CompletionEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

type fakeMapper struct {
	urls []string
	err  error
}

func (m *fakeMapper) Map(ctx context.Context, _ string, _ fetch.MapOptions) (fetch.MapResult, error) {
	if err := ctx.Err(); err != nil {
		return fetch.MapResult{}, err
	}
	if m.err != nil {
		return fetch.MapResult{}, m.err
	}
	return fetch.MapResult{URLs: m.urls, Duration: 5 * time.Millisecond}, nil
}

type fakePageFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakePageFetcher) Fetch(_ context.Context, url string, _ fetch.Options) (fetch.Result, error) {
	if err, ok := f.errs[url]; ok {
		return fetch.Result{}, err
	}
	content, ok := f.pages[url]
	if !ok {
		return fetch.Result{}, fetch.Classify(url, 404, nil)
	}
	return fetch.Result{URL: url, StatusCode: 200, Content: content, Title: "Page"}, nil
}

type fakeExtractor struct {
	doc   *apidoc.Document
	err   error
	calls int
}

func (e *fakeExtractor) Extract(_ context.Context, _ string, sourceURLs []string) (*apidoc.Document, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	doc := *e.doc
	doc.Metadata.SourceURLs = sourceURLs
	return &doc, nil
}

func sampleDoc(endpoints int) *apidoc.Document {
	doc := &apidoc.Document{
		Name:     "Example API",
		BaseURL:  "https://api.example.com",
		Metadata: apidoc.Metadata{Confidence: 0.8},
	}
	for i := 0; i < endpoints; i++ {
		doc.Endpoints = append(doc.Endpoints, apidoc.Endpoint{
			Name:   fmt.Sprintf("Operation %d", i),
			Slug:   fmt.Sprintf("operation-%d", i),
			Method: "GET",
			Path:   fmt.Sprintf("/v1/things/%d", i),
		})
	}
	return doc
}

type orchFixture struct {
	store     *fakeJobStore
	corpus    *fakeCorpusStore
	publisher *fakePublisher
	mapper    *fakeMapper
	fetcher   *fakePageFetcher
	extractor *fakeExtractor
	orch      *Orchestrator
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	f := &orchFixture{
		store:     newFakeJobStore(),
		corpus:    newFakeCorpusStore(),
		publisher: &fakePublisher{},
		mapper: &fakeMapper{urls: []string{
			"https://docs.example.com/api/authentication",
			"https://docs.example.com/api/users",
			"https://docs.example.com/api/rate-limits",
		}},
		fetcher: &fakePageFetcher{pages: map[string]string{
			"https://docs.example.com":                    "Welcome to the Example API docs.",
			"https://docs.example.com/api/authentication": "Use a bearer token in the Authorization header.",
			"https://docs.example.com/api/users":          "GET /v1/users lists users.",
			"https://docs.example.com/api/rate-limits":    "100 requests per minute.",
		}},
		extractor: &fakeExtractor{doc: sampleDoc(2)},
	}
	prioritizer := triage.NewPrioritizer(nil, llm.DefaultRetryPolicy(), zap.NewNop())
	crawler := crawlrun.New(f.fetcher, nil, crawlrun.Config{ContinueOnError: true}, zap.NewNop())
	f.orch = NewOrchestrator(
		f.store, f.corpus, f.publisher,
		f.mapper, prioritizer, crawler, f.extractor, template.New(zap.NewNop()),
		OrchestratorConfig{MaxPages: 10}, zap.NewNop(),
	)
	return f
}

func (f *orchFixture) createPending(t *testing.T, job *Job) *Job {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), job))
	return job
}

// --- tests ---

func TestProcess_CompletesWithExtraction(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	require.Nil(t, got.Error)
	require.Equal(t, 2, got.Result.EndpointCount)
	require.Len(t, got.Result.Actions, 2)
	require.NotEmpty(t, got.CorpusKey)
	require.NoError(t, got.Validate())

	stored, err := f.corpus.Retrieve(context.Background(), got.CorpusKey)
	require.NoError(t, err)
	require.Contains(t, stored, "Authorization header",
		"auth page content belongs to the cached corpus")

	event := f.publisher.last(t)
	require.Equal(t, job.ID, event.JobID)
	require.Equal(t, StatusCompleted, event.Status)
	require.Equal(t, 2, event.EndpointCount)
	require.Equal(t, 1, f.extractor.calls)
}

func TestProcess_StructuredSpecSkipsExtraction(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	f.fetcher.pages["https://docs.example.com/api/users"] = `{
	  "openapi": "3.0.0",
	  "info": {"title": "Example", "version": "1"},
	  "paths": {"/v1/users": {"get": {"operationId": "listUsers", "responses": {"200": {"description": "ok"}}}}}
	}`
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 0, f.extractor.calls, "structured specs bypass the model")
	require.Equal(t, 1.0, got.Result.Document.Metadata.Confidence)
}

func TestProcess_ExplicitURLListSkipsMapping(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	f.mapper.err = fmt.Errorf("mapper must not be called")
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com",
		[]string{"https://docs.example.com/api/users"}, nil))

	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestProcess_MapFailureFallsBackToRootCrawl(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	f.mapper.err = fetch.Classify("https://docs.example.com/sitemap.xml", 500, nil)
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Nil(t, got.Error)
	require.NotNil(t, got.Result)
	require.Equal(t, []string{"https://docs.example.com"}, got.Result.Document.Metadata.SourceURLs,
		"only the root page is crawled when mapping is unavailable")
	require.Equal(t, StatusCompleted, f.publisher.last(t).Status)
}

func TestProcess_CancelledContext(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, f.orch.Process(ctx, "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, CodeCancelled, got.Error.Code)
	require.True(t, got.Error.Retryable)
}

// ctxCheckingJobStore refuses writes on a dead context, the way a real
// database driver would.
type ctxCheckingJobStore struct {
	*fakeJobStore
}

func (s *ctxCheckingJobStore) Update(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeJobStore.Update(ctx, job)
}

type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancellingFetcher) Fetch(ctx context.Context, _ string, _ fetch.Options) (fetch.Result, error) {
	f.cancel()
	return fetch.Result{}, ctx.Err()
}

func TestProcess_CancelMidCrawlStillRecordsFailure(t *testing.T) {
	t.Parallel()

	base := newFakeJobStore()
	store := &ctxCheckingJobStore{fakeJobStore: base}
	publisher := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crawler := crawlrun.New(&cancellingFetcher{cancel: cancel}, nil, crawlrun.Config{}, zap.NewNop())
	orch := NewOrchestrator(
		store, newFakeCorpusStore(), publisher,
		&fakeMapper{}, triage.NewPrioritizer(nil, llm.DefaultRetryPolicy(), zap.NewNop()),
		crawler, &fakeExtractor{doc: sampleDoc(1)}, nil,
		OrchestratorConfig{MaxPages: 5}, zap.NewNop(),
	)
	job := NewJob("tenant-a", "https://docs.example.com",
		[]string{"https://docs.example.com"}, nil)
	require.NoError(t, base.Create(context.Background(), job))

	require.Error(t, orch.Process(ctx, "tenant-a", job.ID))

	got, err := base.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status, "cancellation must still be persisted")
	require.NotNil(t, got.Error)
	require.Equal(t, CodeCancelled, got.Error.Code)
	require.Equal(t, StatusFailed, publisher.last(t).Status)
}

func TestProcess_ExtractionFailure(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	f.extractor.err = fmt.Errorf("extract document: %w", llm.ErrAllAttemptsFailed)
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	require.Error(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, CodeExtractionFailed, got.Error.Code)
	require.True(t, got.Error.Retryable)
}

func TestProcess_CorpusStoreFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	f.corpus.failPut = true
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))

	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Empty(t, got.CorpusKey)
}

func TestProcess_NonPendingJobRejected(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	job := NewJob("tenant-a", "https://docs.example.com", nil, nil)
	job.Status = StatusCompleted
	job.Result = &Result{EndpointCount: 1}
	job.Progress = 100
	f.createPending(t, job)

	require.Error(t, f.orch.Process(context.Background(), "tenant-a", job.ID))
}

func TestReprocess_RecordsPreviousEndpointCount(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)
	job := f.createPending(t, NewJob("tenant-a", "https://docs.example.com", nil, nil))
	require.NoError(t, f.orch.Process(context.Background(), "tenant-a", job.ID))

	f.extractor.doc = sampleDoc(5)
	require.NoError(t, f.orch.Reprocess(context.Background(), "tenant-a", job.ID))

	got, err := f.store.Get(context.Background(), "tenant-a", job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 5, got.Result.EndpointCount)
	require.Equal(t, 2, got.Result.PreviousEndpointCount)
}

func TestReprocess_RequiresTerminalJobWithCorpus(t *testing.T) {
	t.Parallel()

	f := newOrchFixture(t)

	running := NewJob("tenant-a", "https://docs.example.com", nil, nil)
	running.Status = StatusCrawling
	f.createPending(t, running)
	require.Error(t, f.orch.Reprocess(context.Background(), "tenant-a", running.ID))

	noCorpus := NewJob("tenant-a", "https://docs.example.com/other", nil, nil)
	noCorpus.Status = StatusFailed
	noCorpus.Error = &Error{Code: CodeTimeout, Message: "x", Retryable: true}
	f.createPending(t, noCorpus)
	require.Error(t, f.orch.Reprocess(context.Background(), "tenant-a", noCorpus.ID))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cancelled := classifyError(fmt.Errorf("crawl canceled: %w", context.Canceled), CodeInternal)
	require.Equal(t, CodeCancelled, cancelled.Code)
	require.True(t, cancelled.Retryable)

	denied := classifyError(fetch.Classify("https://x", 403, nil), CodeInternal)
	require.Equal(t, CodeAccessDenied, denied.Code)
	require.False(t, denied.Retryable)

	fallback := classifyError(fmt.Errorf("boom"), CodeNoContent)
	require.Equal(t, CodeNoContent, fallback.Code)
	require.True(t, fallback.Retryable)
}
