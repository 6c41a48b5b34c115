// Package collyfetch implements page fetching and site mapping on top of the
// Colly collector.
package collyfetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
)

// Config tunes the Colly collectors.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Delay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "docpipe-bot/0.1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Fetcher retrieves single pages via Colly.
type Fetcher struct {
	base   *colly.Collector
	cfg    Config
	logger *zap.Logger
}

var _ fetch.Fetcher = (*Fetcher)(nil)

// NewFetcher constructs a configured Colly-based Fetcher.
func NewFetcher(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	if cfg.Delay > 0 {
		if err := base.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       cfg.Delay,
		}); err != nil {
			return nil, err
		}
	}

	return &Fetcher{base: base, cfg: cfg, logger: logger}, nil
}

type rawResponse struct {
	statusCode  int
	finalURL    string
	contentType string
	retryAfter  time.Duration
	body        []byte
	err         error
}

// Fetch retrieves one page and extracts its title, readable text, and links.
// Non-HTML bodies (OpenAPI specs served as JSON or YAML) pass through
// verbatim.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts fetch.Options) (fetch.Result, error) {
	start := time.Now()

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fetch.Result{}, &fetch.Error{Code: fetch.ErrInvalidURL, URL: rawURL, Err: err}
	}

	raw, err := f.fetchRaw(ctx, rawURL, opts)
	if err != nil {
		return fetch.Result{}, err
	}

	result := fetch.Result{
		URL:        firstNonEmpty(raw.finalURL, rawURL),
		StatusCode: raw.statusCode,
		Duration:   time.Since(start),
	}
	if !fetch.IsHTML(raw.contentType, raw.body) {
		result.Content = string(raw.body)
		return result, nil
	}

	title, content, links, err := fetch.ExtractDocument(result.URL, raw.body, opts)
	if err != nil {
		return fetch.Result{}, &fetch.Error{Code: fetch.ErrUnknown, URL: rawURL, Err: err}
	}
	result.Title = title
	result.Content = content
	result.Links = links
	return result, nil
}

func (f *Fetcher) fetchRaw(ctx context.Context, rawURL string, opts fetch.Options) (rawResponse, error) {
	collector := f.base.Clone()
	if opts.Timeout > 0 {
		collector.SetRequestTimeout(opts.Timeout)
	}

	resultCh := make(chan rawResponse, 1)
	var once sync.Once
	send := func(res rawResponse) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, vs := range opts.Headers {
			for _, v := range vs {
				r.Headers.Add(k, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		send(rawResponse{
			statusCode:  r.StatusCode,
			finalURL:    r.Request.URL.String(),
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte{}, r.Body...),
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		res := rawResponse{err: err}
		if r != nil {
			res.statusCode = r.StatusCode
			if r.Headers != nil {
				res.retryAfter = parseRetryAfter(r.Headers.Get("Retry-After"))
			}
		}
		send(res)
	})

	if err := collector.Visit(rawURL); err != nil {
		return rawResponse{}, fetch.Classify(rawURL, 0, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return rawResponse{}, err
	}

	select {
	case res := <-resultCh:
		if res.err != nil || res.statusCode >= 400 {
			fe := fetch.Classify(rawURL, res.statusCode, res.err)
			fe.RetryAfter = res.retryAfter
			return rawResponse{}, fe
		}
		return res, nil
	default:
		return rawResponse{}, &fetch.Error{Code: fetch.ErrUnknown, URL: rawURL, Err: errors.New("no response received")}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
