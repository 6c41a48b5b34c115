// Package crawlrun drives the page fetcher across a prioritized URL set,
// pacing requests, tolerating per-page failures, and aggregating fetched
// content into one corpus for extraction.
package crawlrun

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
	"github.com/apiharbor/docpipe/internal/metrics"
	"github.com/apiharbor/docpipe/internal/triage"
)

// Config controls one crawl.
type Config struct {
	Delay            time.Duration // pause between consecutive fetches
	PageTimeout      time.Duration
	ContinueOnError  bool
	HeadlessMinBytes int // promote to headless below this body size
}

// Page is one fetched (or failed) page.
type Page struct {
	URL      string
	Title    string
	Category triage.Category
	Content  string
	Err      error
}

// Result is the aggregated outcome of a crawl.
type Result struct {
	Corpus     string
	Pages      []Page
	SourceURLs []string
	FailedURLs []string
}

// Crawler fetches pages one at a time with an explicit inter-request delay,
// trading throughput for third-party rate-limit safety.
type Crawler struct {
	fetcher  fetch.Fetcher
	headless fetch.Fetcher
	cfg      Config
	logger   *zap.Logger
}

// New builds a Crawler. headless may be nil to disable promotion.
func New(fetcher fetch.Fetcher, headless fetch.Fetcher, cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	return &Crawler{fetcher: fetcher, headless: headless, cfg: cfg, logger: logger}
}

// Crawl fetches the prioritized pages in order. The first entry is treated as
// the root page: its failure aborts the crawl when ContinueOnError is false.
// Other failures are recorded and skipped.
func (c *Crawler) Crawl(ctx context.Context, prioritized []triage.PrioritizedURL) (Result, error) {
	var result Result
	if len(prioritized) == 0 {
		return result, fmt.Errorf("no pages to crawl")
	}

	for i, p := range prioritized {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("crawl canceled: %w", err)
		}
		if i > 0 {
			if err := pause(ctx, c.cfg.Delay); err != nil {
				return result, fmt.Errorf("crawl canceled: %w", err)
			}
		}

		page := c.fetchPage(ctx, p)
		result.Pages = append(result.Pages, page)
		if page.Err != nil {
			metrics.ObservePage("failed")
			result.FailedURLs = append(result.FailedURLs, page.URL)
			c.logger.Warn("page fetch failed",
				zap.String("url", page.URL),
				zap.Error(page.Err),
			)
			if i == 0 && !c.cfg.ContinueOnError {
				return result, fmt.Errorf("root page fetch failed: %w", page.Err)
			}
			continue
		}
		metrics.ObservePage("fetched")
		result.SourceURLs = append(result.SourceURLs, page.URL)
	}

	if len(result.SourceURLs) == 0 {
		return result, fmt.Errorf("no pages were fetched")
	}
	result.Corpus = Aggregate(result.Pages)
	return result, nil
}

func (c *Crawler) fetchPage(ctx context.Context, p triage.PrioritizedURL) Page {
	page := Page{URL: p.URL, Category: p.Category}

	pageCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	start := time.Now()
	res, err := c.fetcher.Fetch(pageCtx, p.URL, fetch.Options{
		Timeout:         c.cfg.PageTimeout,
		OnlyMainContent: true,
	})
	metrics.ObserveFetchDuration(time.Since(start))
	if err != nil {
		page.Err = err
		return page
	}

	if c.shouldPromote(res) {
		if promoted, ok := c.promote(ctx, p.URL); ok {
			res = promoted
		}
	}

	page.Title = res.Title
	if page.Title == "" {
		page.Title = deriveTitle(p.URL)
	}
	page.Content = res.Content
	return page
}

// shouldPromote flags JS shell pages that need a rendered fetch.
func (c *Crawler) shouldPromote(res fetch.Result) bool {
	if c.headless == nil {
		return false
	}
	if c.cfg.HeadlessMinBytes > 0 && len(res.Content) < c.cfg.HeadlessMinBytes {
		return true
	}
	return false
}

func (c *Crawler) promote(ctx context.Context, url string) (fetch.Result, bool) {
	pageCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	res, err := c.headless.Fetch(pageCtx, url, fetch.Options{OnlyMainContent: true})
	if err != nil {
		c.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return fetch.Result{}, false
	}
	c.logger.Info("headless promotion applied", zap.String("url", url))
	return res, true
}

func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func deriveTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	return strings.ReplaceAll(strings.ReplaceAll(last, "-", " "), "_", " ")
}
