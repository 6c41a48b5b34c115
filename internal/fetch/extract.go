package fetch

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chrome selectors stripped before text extraction. Navigation repeats on
// every page of a docs site and drowns out the endpoint text.
const chromeSelectors = "script, style, noscript, nav, header, footer, aside"

// mainSelectors are tried in order when OnlyMainContent is set.
var mainSelectors = []string{"main", "article", "[role=main]", "#content", ".content"}

// IsHTML reports whether a response body should be parsed as HTML. OpenAPI
// specs served as JSON or YAML must pass through untouched.
func IsHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct != "" {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// ExtractDocument parses an HTML body into a title, readable text, and the
// set of absolute links found on the page.
func ExtractDocument(baseURL string, body []byte, opts Options) (title, content string, links []string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", nil, err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	if opts.WantLinks {
		links = collectLinks(doc, baseURL)
	}

	doc.Find(chromeSelectors).Remove()

	root := doc.Selection
	if opts.OnlyMainContent {
		for _, sel := range mainSelectors {
			if s := doc.Find(sel); s.Length() > 0 {
				root = s.First()
				break
			}
		}
	}

	content = normalizeText(root.Text())
	return title, content, links, nil
}

func collectLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// normalizeText collapses the whitespace soup left behind by stripping tags.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
