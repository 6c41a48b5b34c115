package apidoc

import (
	"fmt"
	"regexp"
	"strings"
)

var slugCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a name or path into a lowercase hyphenated slug.
func Slugify(parts ...string) string {
	joined := strings.ToLower(strings.Join(parts, " "))
	slug := slugCleaner.ReplaceAllString(joined, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "endpoint"
	}
	return slug
}

// EnsureUniqueSlugs rewrites colliding endpoint slugs in place. The first
// occurrence keeps its slug; later collisions get a method suffix, then a
// numeric counter. Returns one warning per rewritten slug.
func EnsureUniqueSlugs(endpoints []Endpoint) []string {
	seen := make(map[string]struct{}, len(endpoints))
	var warnings []string
	for i := range endpoints {
		ep := &endpoints[i]
		if ep.Slug == "" {
			ep.Slug = Slugify(ep.Method, ep.Path)
		}
		if _, dup := seen[ep.Slug]; !dup {
			seen[ep.Slug] = struct{}{}
			continue
		}
		original := ep.Slug
		candidate := Slugify(ep.Slug, ep.Method)
		for n := 2; ; n++ {
			if _, dup := seen[candidate]; !dup {
				break
			}
			candidate = fmt.Sprintf("%s-%d", original, n)
		}
		ep.Slug = candidate
		seen[candidate] = struct{}{}
		warnings = append(warnings, fmt.Sprintf("duplicate slug %q renamed to %q", original, candidate))
	}
	return warnings
}
