package collyfetch

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/fetch"
)

// mapCrawlDepth bounds the fallback link walk. Two hops from the root covers
// the index page plus its section pages.
const mapCrawlDepth = 2

// Mapper enumerates candidate URLs under a documentation root. It tries the
// site's sitemap first and falls back to a shallow link walk.
type Mapper struct {
	cfg    Config
	logger *zap.Logger
}

var _ fetch.Mapper = (*Mapper)(nil)

// NewMapper constructs a Mapper.
func NewMapper(cfg Config, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{cfg: cfg.withDefaults(), logger: logger}
}

// Map discovers URLs under rootURL up to opts.Limit. URLs matching
// opts.SearchHint sort first.
func (m *Mapper) Map(ctx context.Context, rootURL string, opts fetch.MapOptions) (fetch.MapResult, error) {
	start := time.Now()

	root, err := url.Parse(rootURL)
	if err != nil || (root.Scheme != "http" && root.Scheme != "https") {
		return fetch.MapResult{}, &fetch.Error{Code: fetch.ErrInvalidURL, URL: rootURL, Err: err}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 200
	}

	urls := m.fromSitemap(ctx, root, limit)
	if len(urls) > 0 {
		m.logger.Debug("site mapped via sitemap",
			zap.String("root", rootURL),
			zap.Int("urls", len(urls)))
	} else {
		urls, err = m.fromLinkWalk(ctx, root, opts, limit)
		if err != nil {
			return fetch.MapResult{}, err
		}
	}

	if opts.SearchHint != "" {
		urls = hintFirst(urls, opts.SearchHint)
	}
	return fetch.MapResult{URLs: urls, Duration: time.Since(start)}, nil
}

// fromSitemap fetches /sitemap.xml and collects its entries, following one
// level of sitemap-index indirection. A missing or broken sitemap is not an
// error, just a reason to fall back.
func (m *Mapper) fromSitemap(ctx context.Context, root *url.URL, limit int) []string {
	collector := m.newCollector(ctx, root, 1)

	var urls []string
	var children []string
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if len(urls) < limit {
			urls = append(urls, strings.TrimSpace(e.Text))
		}
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		children = append(children, strings.TrimSpace(e.Text))
	})

	sitemapURL := root.Scheme + "://" + root.Host + "/sitemap.xml"
	if err := collector.Visit(sitemapURL); err != nil {
		return nil
	}
	collector.Wait()

	for _, child := range children {
		if len(urls) >= limit {
			break
		}
		if err := collector.Visit(child); err != nil {
			continue
		}
		collector.Wait()
	}

	return sameHostOnly(urls, root.Hostname(), limit)
}

// fromLinkWalk crawls outward from the root, collecting same-host links.
func (m *Mapper) fromLinkWalk(ctx context.Context, root *url.URL, opts fetch.MapOptions, limit int) ([]string, error) {
	collector := m.newCollector(ctx, root, mapCrawlDepth)
	if opts.Timeout > 0 {
		collector.SetRequestTimeout(opts.Timeout)
	}

	seen := map[string]bool{}
	var urls []string
	var visitErr error

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(urls) >= limit {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		parsed, err := url.Parse(link)
		if err != nil || !hostMatches(parsed.Hostname(), root.Hostname()) {
			return
		}
		parsed.Fragment = ""
		link = parsed.String()
		if seen[link] {
			return
		}
		seen[link] = true
		urls = append(urls, link)
		if e.Request.Depth < mapCrawlDepth {
			_ = e.Request.Visit(link)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		// Only the root failure is fatal; broken inner links are expected.
		if r != nil && r.Request.Depth <= 1 && visitErr == nil {
			visitErr = fetch.Classify(r.Request.URL.String(), status, err)
		}
	})

	if err := collector.Visit(root.String()); err != nil {
		return nil, fetch.Classify(root.String(), 0, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(urls) == 0 && visitErr != nil {
		return nil, visitErr
	}
	return urls, nil
}

func (m *Mapper) newCollector(ctx context.Context, root *url.URL, depth int) *colly.Collector {
	collector := colly.NewCollector(
		colly.UserAgent(m.cfg.UserAgent),
		colly.MaxDepth(depth),
		colly.AllowedDomains(allowedHosts(root.Hostname())...),
	)
	collector.SetRequestTimeout(m.cfg.Timeout)
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	return collector
}

func allowedHosts(host string) []string {
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}

func hostMatches(host, rootHost string) bool {
	return strings.TrimPrefix(host, "www.") == strings.TrimPrefix(rootHost, "www.")
}

func sameHostOnly(urls []string, host string, limit int) []string {
	var out []string
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || !hostMatches(parsed.Hostname(), host) {
			continue
		}
		out = append(out, u)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func hintFirst(urls []string, hint string) []string {
	hint = strings.ToLower(hint)
	matched := make([]string, 0, len(urls))
	var rest []string
	for _, u := range urls {
		if strings.Contains(strings.ToLower(u), hint) {
			matched = append(matched, u)
		} else {
			rest = append(rest, u)
		}
	}
	return append(matched, rest...)
}
