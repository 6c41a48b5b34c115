// Package triage scores and selects the bounded set of documentation URLs
// worth fetching. Pattern-based classification is both the pre-filter and the
// fallback when the language model is unavailable.
package triage

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so logically identical pages deduplicate.
// It lowercases scheme and host, removes default ports, and strips the query
// string, fragment and trailing slash. Documentation sites routinely expose
// the same page under several query-decorated URLs.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// Dedupe normalizes and deduplicates URLs, preserving first-seen order.
// Unparseable entries are dropped.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
