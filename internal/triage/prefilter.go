package triage

import (
	"net/url"
	"strings"
)

// PreFilterResult partitions discovered URLs before triage.
type PreFilterResult struct {
	Included []string
	Excluded []string
}

// PreFilter keeps same-host URLs under the root's path prefix whose category
// is not excluded. This bounds triage input for large sites before any
// expensive call. Output URLs are normalized and deduplicated in discovery
// order, which makes the operation idempotent.
func PreFilter(urls []string, rootURL string) PreFilterResult {
	var result PreFilterResult

	root, err := url.Parse(rootURL)
	if err != nil || root.Host == "" {
		result.Excluded = append(result.Excluded, urls...)
		return result
	}
	rootHost := strings.ToLower(root.Host)
	rootPrefix := strings.TrimSuffix(root.Path, "/")

	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		normalized, err := NormalizeURL(raw)
		if err != nil {
			result.Excluded = append(result.Excluded, raw)
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		u, _ := url.Parse(normalized)
		if !strings.EqualFold(u.Host, rootHost) || !underPrefix(u.Path, rootPrefix) {
			result.Excluded = append(result.Excluded, normalized)
			continue
		}
		if Classify(normalized).Exclude {
			result.Excluded = append(result.Excluded, normalized)
			continue
		}
		result.Included = append(result.Included, normalized)
	}
	return result
}

func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
