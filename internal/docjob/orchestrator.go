package docjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/actiongen"
	"github.com/apiharbor/docpipe/internal/apidoc"
	"github.com/apiharbor/docpipe/internal/crawlrun"
	"github.com/apiharbor/docpipe/internal/fetch"
	"github.com/apiharbor/docpipe/internal/llm"
	"github.com/apiharbor/docpipe/internal/metrics"
	"github.com/apiharbor/docpipe/internal/parse"
	"github.com/apiharbor/docpipe/internal/template"
	"github.com/apiharbor/docpipe/internal/triage"
)

// Progress checkpoints. Stage durations are not reliably measurable in
// advance, so progress advances at fixed points rather than continuously.
const (
	progressMapped    = 10
	progressTriaged   = 25
	progressCrawling  = 30
	progressCrawled   = 70
	progressParsed    = 80
	progressGenerated = 95
	progressDone      = 100
)

// OrchestratorConfig tunes one orchestrator instance. Zero values fall back
// to the triage and action-generation defaults.
type OrchestratorConfig struct {
	MaxPages                int
	MapLimit                int
	CharBudget              int
	MinLLMSelection         int
	AuthCap                 int
	MaxOutputTokens         int
	MinPaginationConfidence float64
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 20
	}
	if c.MapLimit <= 0 {
		c.MapLimit = 200
	}
}

// Extractor produces a document from an aggregated prose corpus.
type Extractor interface {
	Extract(ctx context.Context, corpus string, sourceURLs []string) (*apidoc.Document, error)
}

// Orchestrator sequences mapping, triage, crawling, parsing and generation
// for one job at a time. It is the only writer of job state.
type Orchestrator struct {
	jobs        JobStore
	corpus      CorpusStore
	publisher   Publisher
	mapper      fetch.Mapper
	prioritizer *triage.Prioritizer
	crawler     *crawlrun.Crawler
	extractor   Extractor
	detector    *template.Detector
	cfg         OrchestratorConfig
	logger      *zap.Logger
}

// NewOrchestrator wires an orchestrator. publisher and detector may be nil.
func NewOrchestrator(
	jobs JobStore,
	corpus CorpusStore,
	publisher Publisher,
	mapper fetch.Mapper,
	prioritizer *triage.Prioritizer,
	crawler *crawlrun.Crawler,
	extractor Extractor,
	detector *template.Detector,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		jobs:        jobs,
		corpus:      corpus,
		publisher:   publisher,
		mapper:      mapper,
		prioritizer: prioritizer,
		crawler:     crawler,
		extractor:   extractor,
		detector:    detector,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process runs a pending job through the full pipeline. Errors are recorded
// on the job; the returned error reports them for the caller's logging.
func (o *Orchestrator) Process(ctx context.Context, tenantID, jobID string) error {
	job, err := o.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("job %s is %s, not pending", jobID, job.Status)
	}
	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))

	if err := o.advance(ctx, job, StatusCrawling, job.Progress); err != nil {
		return err
	}

	prioritized, err := o.selectPages(ctx, job, logger)
	if err != nil {
		return o.fail(ctx, job, err, CodeNoContent, logger)
	}

	if err := o.advance(ctx, job, StatusCrawling, progressCrawling); err != nil {
		return err
	}
	crawled, err := o.crawler.Crawl(ctx, prioritized)
	if err != nil {
		return o.fail(ctx, job, err, CodeNoContent, logger)
	}

	o.storeCorpus(ctx, job, crawled, logger)
	if err := o.advance(ctx, job, StatusCrawling, progressCrawled); err != nil {
		return err
	}

	if err := o.advance(ctx, job, StatusParsing, progressCrawled); err != nil {
		return err
	}
	doc, err := o.analyze(ctx, crawled.Pages, crawled.Corpus, crawled.SourceURLs, logger)
	if err != nil {
		return o.fail(ctx, job, err, CodeExtractionFailed, logger)
	}
	if err := o.advance(ctx, job, StatusParsing, progressParsed); err != nil {
		return err
	}

	if err := o.advance(ctx, job, StatusGenerating, progressParsed); err != nil {
		return err
	}
	result := o.generate(job, doc, crawled.Corpus)
	result.FailedURLs = crawled.FailedURLs
	if err := o.advance(ctx, job, StatusGenerating, progressGenerated); err != nil {
		return err
	}

	return o.complete(ctx, job, result, logger)
}

// Reprocess re-runs parsing and generation over the cached corpus of a
// terminal job, preserving the original crawl. The previous endpoint count is
// recorded in the new result for comparison.
func (o *Orchestrator) Reprocess(ctx context.Context, tenantID, jobID string) error {
	job, err := o.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is %s; only terminal jobs can be reanalyzed", jobID, job.Status)
	}
	if job.CorpusKey == "" {
		return fmt.Errorf("job %s has no cached corpus", jobID)
	}
	corpus, err := o.corpus.Retrieve(ctx, job.CorpusKey)
	if err != nil {
		return fmt.Errorf("retrieve corpus for job %s: %w", jobID, err)
	}
	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))

	previousCount := 0
	sourceURLs := []string{job.URL}
	if job.Result != nil {
		previousCount = job.Result.EndpointCount
		if job.Result.Document != nil && len(job.Result.Document.Metadata.SourceURLs) > 0 {
			sourceURLs = job.Result.Document.Metadata.SourceURLs
		}
	}

	// Reanalysis restarts the terminal job at the parse stage. This is the
	// one sanctioned exception to one-directional transitions.
	job.Status = StatusParsing
	job.Progress = progressCrawled
	job.Result = nil
	job.Error = nil
	job.UpdatedAt = time.Now().UTC()
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}

	doc, err := o.analyze(ctx, nil, corpus, sourceURLs, logger)
	if err != nil {
		return o.fail(ctx, job, err, CodeExtractionFailed, logger)
	}
	if err := o.advance(ctx, job, StatusGenerating, progressParsed); err != nil {
		return err
	}
	result := o.generate(job, doc, corpus)
	result.PreviousEndpointCount = previousCount

	return o.complete(ctx, job, result, logger)
}

// selectPages resolves the prioritized page set: explicit URL lists skip
// mapping and triage entirely.
func (o *Orchestrator) selectPages(ctx context.Context, job *Job, logger *zap.Logger) ([]triage.PrioritizedURL, error) {
	if len(job.URLs) > 0 {
		out := make([]triage.PrioritizedURL, 0, len(job.URLs))
		for i, u := range job.URLs {
			normalized, err := triage.NormalizeURL(u)
			if err != nil {
				logger.Warn("skipping invalid explicit url", zap.String("url", u), zap.Error(err))
				continue
			}
			out = append(out, triage.PrioritizedURL{
				URL:      normalized,
				Priority: 100 - i,
				Category: triage.Classify(normalized).Category,
				Reason:   "explicit url",
			})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no valid urls in explicit list")
		}
		if err := o.advance(ctx, job, StatusCrawling, progressTriaged); err != nil {
			return nil, err
		}
		return out, nil
	}

	mapped, err := o.mapper.Map(ctx, job.URL, fetch.MapOptions{Limit: o.cfg.MapLimit})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("map site: %w", err)
		}
		// Mapping is best-effort: sites without a sitemap or with a blocked
		// index still get a root-only crawl instead of a failed job.
		logger.Warn("site mapping failed; crawling root only", zap.Error(err))
		if err := o.advance(ctx, job, StatusCrawling, progressTriaged); err != nil {
			return nil, err
		}
		return []triage.PrioritizedURL{{
			URL:      job.URL,
			Priority: 100,
			Category: triage.Classify(job.URL).Category,
			Reason:   "site mapping unavailable",
		}}, nil
	}
	logger.Info("site mapped",
		zap.Int("urls", len(mapped.URLs)),
		zap.Duration("duration", mapped.Duration))
	if err := o.advance(ctx, job, StatusCrawling, progressMapped); err != nil {
		return nil, err
	}

	filtered := triage.PreFilter(append(mapped.URLs, job.URL), job.URL)
	prioritized := o.prioritizer.Prioritize(ctx, filtered.Included, job.URL, triage.Options{
		MaxPages:        o.cfg.MaxPages,
		Wishlist:        job.Wishlist,
		CharBudget:      o.cfg.CharBudget,
		MinLLMSelection: o.cfg.MinLLMSelection,
		AuthCap:         o.cfg.AuthCap,
		MaxOutputTokens: o.cfg.MaxOutputTokens,
	})
	if len(prioritized) == 0 {
		return nil, fmt.Errorf("triage selected no pages")
	}
	logger.Info("pages triaged", zap.Int("selected", len(prioritized)))
	if err := o.advance(ctx, job, StatusCrawling, progressTriaged); err != nil {
		return nil, err
	}
	return prioritized, nil
}

// storeCorpus caches the crawl output. Failure is logged, never fatal.
func (o *Orchestrator) storeCorpus(ctx context.Context, job *Job, crawled crawlrun.Result, logger *zap.Logger) {
	if o.corpus == nil {
		return
	}
	key, err := o.corpus.Store(ctx, job.ID, crawled.Corpus, CorpusMeta{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		SourceURLs: crawled.SourceURLs,
		StoredAt:   time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("corpus store failed", zap.Error(err))
		return
	}
	job.CorpusKey = key
}

// analyze picks the deterministic parse path when any page is a structured
// spec, otherwise runs model extraction over the whole corpus.
func (o *Orchestrator) analyze(ctx context.Context, pages []crawlrun.Page, corpus string, sourceURLs []string, logger *zap.Logger) (*apidoc.Document, error) {
	for _, page := range pages {
		if page.Err != nil || !parse.IsStructuredSpec(page.Content) {
			continue
		}
		doc, err := parse.ParseSpec(page.Content, page.URL)
		if err != nil {
			logger.Warn("structured spec parse failed, continuing", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		logger.Info("structured spec parsed", zap.String("url", page.URL), zap.Int("endpoints", doc.EndpointCount()))
		return doc, nil
	}
	if pages == nil && parse.IsStructuredSpec(corpus) {
		if doc, err := parse.ParseSpec(corpus, firstOr(sourceURLs, "")); err == nil {
			return doc, nil
		}
	}
	return o.extractor.Extract(ctx, corpus, sourceURLs)
}

func (o *Orchestrator) generate(job *Job, doc *apidoc.Document, corpus string) *Result {
	actions := actiongen.New(actiongen.Options{
		Wishlist:                job.Wishlist,
		MinPaginationConfidence: o.cfg.MinPaginationConfidence,
	}, o.logger).Generate(doc)

	result := &Result{
		Document:      doc,
		Actions:       actions,
		EndpointCount: doc.EndpointCount(),
	}
	if o.detector != nil {
		result.Template = o.detector.Detect(job.URL, corpus, doc)
	}
	return result
}

// advance moves the job forward, enforcing transition legality, monotone
// progress and the result/error invariants on every write.
func (o *Orchestrator) advance(ctx context.Context, job *Job, status Status, progress int) error {
	if job.Status != status {
		if !CanTransition(job.Status, status) {
			return fmt.Errorf("illegal transition %s -> %s for job %s", job.Status, status, job.ID)
		}
		job.Status = status
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC()
	if err := job.Validate(); err != nil {
		return err
	}
	return o.jobs.Update(ctx, job)
}

func (o *Orchestrator) complete(ctx context.Context, job *Job, result *Result, logger *zap.Logger) error {
	// Terminal writes must land even when the run context has been
	// canceled, otherwise the job is stuck in a running state forever.
	ctx = context.WithoutCancel(ctx)
	job.Result = result
	if err := o.advance(ctx, job, StatusCompleted, progressDone); err != nil {
		return err
	}
	metrics.ObserveJob(string(StatusCompleted))
	logger.Info("job completed", zap.Int("endpoints", result.EndpointCount))
	o.publish(ctx, job, logger)
	return nil
}

// fail records a normalized error on the job and publishes the terminal
// event. The original error is returned for the caller.
func (o *Orchestrator) fail(ctx context.Context, job *Job, cause error, fallback ErrorCode, logger *zap.Logger) error {
	// Cancellation arrives through the run context, so the failure record
	// and its event are written on a detached context.
	ctx = context.WithoutCancel(ctx)
	jobErr := classifyError(cause, fallback)
	job.Result = nil
	job.Error = jobErr
	if err := o.advance(ctx, job, StatusFailed, job.Progress); err != nil {
		logger.Error("recording job failure failed", zap.Error(err))
	}
	metrics.ObserveJob(string(StatusFailed))
	logger.Warn("job failed",
		zap.String("code", string(jobErr.Code)),
		zap.Bool("retryable", jobErr.Retryable),
		zap.Error(cause))
	o.publish(ctx, job, logger)
	return fmt.Errorf("job %s failed: %w", job.ID, cause)
}

// publish emits the terminal event. Publish failures are logged, never fatal.
func (o *Orchestrator) publish(ctx context.Context, job *Job, logger *zap.Logger) {
	if o.publisher == nil {
		return
	}
	event := CompletionEvent{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Status:   job.Status,
		At:       time.Now().UTC(),
	}
	if job.Result != nil {
		event.EndpointCount = job.Result.EndpointCount
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		logger.Warn("completion publish failed", zap.Error(err))
	}
}

// classifyError maps pipeline failures into the job error taxonomy.
func classifyError(err error, fallback ErrorCode) *Error {
	out := &Error{Message: err.Error(), At: time.Now().UTC()}
	var fetchErr *fetch.Error
	switch {
	case errors.Is(err, context.Canceled):
		out.Code = CodeCancelled
		out.Retryable = true
	case errors.Is(err, context.DeadlineExceeded):
		out.Code = CodeTimeout
		out.Retryable = true
	case errors.As(err, &fetchErr):
		out.Code = ErrorCode(fetchErr.Code)
		out.Retryable = fetchErr.Retryable()
	case errors.Is(err, llm.ErrAllAttemptsFailed):
		out.Code = CodeExtractionFailed
		out.Retryable = true
	default:
		out.Code = fallback
		out.Retryable = fallback != CodeInvalidURL && fallback != CodeAccessDenied
	}
	return out
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
