package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/config"
	"github.com/apiharbor/docpipe/internal/crawlrun"
	"github.com/apiharbor/docpipe/internal/docjob"
	"github.com/apiharbor/docpipe/internal/extract"
	"github.com/apiharbor/docpipe/internal/fetch"
	"github.com/apiharbor/docpipe/internal/fetch/collyfetch"
	"github.com/apiharbor/docpipe/internal/fetch/headless"
	"github.com/apiharbor/docpipe/internal/llm"
	"github.com/apiharbor/docpipe/internal/llm/openai"
	"github.com/apiharbor/docpipe/internal/metrics"
	pubmem "github.com/apiharbor/docpipe/internal/publisher/memory"
	pubsubpub "github.com/apiharbor/docpipe/internal/publisher/pubsub"
	queuemem "github.com/apiharbor/docpipe/internal/queue/memory"
	"github.com/apiharbor/docpipe/internal/storage/gcs"
	storagemem "github.com/apiharbor/docpipe/internal/storage/memory"
	"github.com/apiharbor/docpipe/internal/storage/postgres"
	"github.com/apiharbor/docpipe/internal/template"
	"github.com/apiharbor/docpipe/internal/triage"
	"github.com/apiharbor/docpipe/internal/worker"
)

// pipeline bundles the wired job service with everything that needs a
// shutdown call.
type pipeline struct {
	service   *docjob.Service
	queue     docjob.Queue
	pool      *worker.Pool
	publisher docjob.Publisher
	closers   []func()
}

// Close releases resources in reverse construction order.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline wires fetchers, stores, the orchestrator, the job service
// and the worker pool. memoryOnly forces in-process backends regardless of
// configuration; the harvest command uses it for one-shot runs.
func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, memoryOnly bool) (*pipeline, error) {
	metrics.Init()
	p := &pipeline{}

	collyCfg := collyfetch.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   cfg.PageTimeout(),
		Delay:     cfg.CrawlDelay(),
	}
	fetcher, err := collyfetch.NewFetcher(collyCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	mapper := collyfetch.NewMapper(collyCfg, logger)

	renderer, err := buildRenderer(cfg, logger, p)
	if err != nil {
		p.Close()
		return nil, err
	}

	crawler := crawlrun.New(fetcher, renderer, crawlrun.Config{
		Delay:            cfg.CrawlDelay(),
		PageTimeout:      cfg.PageTimeout(),
		ContinueOnError:  cfg.Crawl.ContinueOnError,
		HeadlessMinBytes: cfg.Headless.MinContentBytes,
	}, logger)

	var client llm.Client
	if cfg.LLM.APIKey != "" {
		oc, err := openai.New(cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("init llm client: %w", err)
		}
		client = oc
	} else {
		logger.Warn("llm.api_key not set; triage falls back to patterns and prose extraction is unavailable")
	}
	retry := llm.DefaultRetryPolicy()
	prioritizer := triage.NewPrioritizer(client, retry, logger)
	extractor := extract.New(client, retry, logger)

	jobs, err := buildJobStore(ctx, cfg, memoryOnly, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	corpus, err := buildCorpusStore(ctx, cfg, memoryOnly, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg, memoryOnly, p)
	if err != nil {
		p.Close()
		return nil, err
	}

	queue := queuemem.NewQueue(cfg.Jobs.QueueDepth)
	orch := docjob.NewOrchestrator(
		jobs, corpus, publisher,
		mapper, prioritizer, crawler, extractor,
		template.New(logger),
		docjob.OrchestratorConfig{
			MaxPages:        cfg.Triage.MaxPages,
			MapLimit:        cfg.Crawl.MapLimit,
			CharBudget:      cfg.Triage.CharBudget,
			MinLLMSelection: cfg.Triage.MinLLMSelection,
			AuthCap:         cfg.Triage.AuthCap,
			MaxOutputTokens: cfg.LLM.MaxTokens,
		},
		logger,
	)
	service := docjob.NewService(jobs, queue, orch, docjob.ServiceConfig{
		MinCachedEndpoints: cfg.Jobs.MinCachedEndpoints,
	}, logger)

	p.service = service
	p.queue = queue
	p.publisher = publisher
	p.pool = worker.New(queue, service, cfg.Jobs.Workers, logger)
	return p, nil
}

func buildRenderer(cfg config.Config, logger *zap.Logger, p *pipeline) (fetch.Fetcher, error) {
	renderer, err := headless.New(headless.Config{
		Enabled:    cfg.Headless.Enabled,
		UserAgent:  cfg.Crawl.UserAgent,
		NavTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
	}, logger)
	switch {
	case err == nil:
		p.closers = append(p.closers, renderer.Close)
		return renderer, nil
	case errors.Is(err, headless.ErrDisabled):
		return nil, nil
	default:
		logger.Warn("headless renderer unavailable; static fetches only", zap.Error(err))
		return nil, nil
	}
}

func buildJobStore(ctx context.Context, cfg config.Config, memoryOnly bool, p *pipeline) (docjob.JobStore, error) {
	if memoryOnly || cfg.DB.DSN == "" {
		return storagemem.NewJobStore(), nil
	}
	store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres job store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure job schema: %w", err)
	}
	p.closers = append(p.closers, store.Close)
	return store, nil
}

func buildCorpusStore(ctx context.Context, cfg config.Config, memoryOnly bool, p *pipeline) (docjob.CorpusStore, error) {
	if memoryOnly || cfg.Storage.GCSBucket == "" {
		return storagemem.NewCorpusStore(), nil
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	p.closers = append(p.closers, func() { _ = client.Close() })
	store, err := gcs.New(client, gcs.Config{
		Bucket: cfg.Storage.GCSBucket,
		Prefix: cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init gcs corpus store: %w", err)
	}
	return store, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, memoryOnly bool, p *pipeline) (docjob.Publisher, error) {
	if memoryOnly || cfg.PubSub.ProjectID == "" {
		return pubmem.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	p.closers = append(p.closers, func() { _ = client.Close() })
	publisher, err := pubsubpub.NewFromClient(client, cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	p.closers = append(p.closers, publisher.Stop)
	return publisher, nil
}
