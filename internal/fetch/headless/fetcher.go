// Package headless renders JavaScript-heavy documentation pages with
// chromedp. It is the fallback when a static fetch returns a near-empty
// shell.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
)

// ErrDisabled indicates rendering has been turned off via configuration.
var ErrDisabled = errors.New("headless rendering disabled")

// Config tunes the renderer.
type Config struct {
	Enabled        bool
	UserAgent      string
	NavTimeout     time.Duration
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "docpipe-bot/0.1"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 25 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	return c
}

// Fetcher renders pages in headless Chrome. One browser is shared; each
// fetch runs in its own tab.
type Fetcher struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	cfg             Config
	logger          *zap.Logger
	closeOnce       sync.Once
}

var _ fetch.Fetcher = (*Fetcher)(nil)

// New starts the shared browser. Returns ErrDisabled when cfg.Enabled is
// false so callers can skip the fallback cleanly.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Fetcher{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// Close tears down the browser and allocator.
func (f *Fetcher) Close() {
	if f == nil {
		return
	}
	f.closeOnce.Do(func() {
		f.browserCancel()
		f.allocatorCancel()
	})
}

// Fetch renders one page and extracts its title, readable text, and links.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (fetch.Result, error) {
	start := time.Now()

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fetch.Result{}, &fetch.Error{Code: fetch.ErrInvalidURL, URL: rawURL, Err: err}
	}

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return fetch.Result{}, ctx.Err()
	}

	timeout := f.cfg.NavTimeout
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()
	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fetch.Result{}, ctxErr
		}
		return fetch.Result{}, fetch.Classify(rawURL, 0, err)
	}

	title, content, links, err := fetch.ExtractDocument(rawURL, []byte(html), opts)
	if err != nil {
		return fetch.Result{}, &fetch.Error{Code: fetch.ErrUnknown, URL: rawURL, Err: err}
	}

	// The renderer only sees the final DOM, never the response status. A
	// successful run is reported as 200.
	return fetch.Result{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Title:      title,
		Content:    content,
		Links:      links,
		Duration:   time.Since(start),
	}, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
