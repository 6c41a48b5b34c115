package triage

import (
	"net/url"
	"regexp"
	"strings"
)

// Category buckets a documentation URL by what the page likely covers.
type Category string

// URL categories, ordered roughly by extraction value.
const (
	CategoryAuth           Category = "authentication"
	CategoryRateLimit      Category = "rate_limits"
	CategoryEndpoint       Category = "api_endpoint"
	CategoryReference      Category = "api_reference"
	CategoryGettingStarted Category = "getting_started"
	CategoryOverview       Category = "overview"
	CategoryExcluded       Category = "excluded"
)

// Classification is the pattern-based score for one URL.
type Classification struct {
	Category Category
	Score    int
	Exclude  bool
}

type categoryPattern struct {
	category Category
	score    int
	pattern  *regexp.Regexp
}

// Authentication pages always score highest: missing auth docs silently
// breaks every downstream action.
var categoryPatterns = []categoryPattern{
	{CategoryAuth, 95, regexp.MustCompile(`(?i)(^|/)(auth|authentication|authorization|oauth2?|api-?keys?|tokens?|credentials|security)(/|$)`)},
	{CategoryRateLimit, 85, regexp.MustCompile(`(?i)(^|/)(rate-?limits?|limits|throttling|quotas?)(/|$)`)},
	{CategoryEndpoint, 80, regexp.MustCompile(`(?i)(^|/)(endpoints?|resources|operations|rest|graphql|webhooks?)(/|$)|/v\d+(/|$)`)},
	{CategoryReference, 75, regexp.MustCompile(`(?i)(^|/)(api-?reference|reference|api-?docs?|openapi|swagger|spec)(/|$)`)},
	{CategoryGettingStarted, 60, regexp.MustCompile(`(?i)(^|/)(getting-?started|quick-?start|introduction|intro|basics|tutorials?)(/|$)`)},
}

var excludePattern = regexp.MustCompile(
	`(?i)(^|/)(blog|news|pricing|plans|legal|terms|privacy|careers|jobs|about|contact|community|forum|discussions?|support/tickets?|status|press|events?|partners?|customers|case-stud)`,
)

var excludedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".css": {}, ".js": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".pdf": {}, ".mp4": {}, ".webm": {},
}

// Classify scores a URL into a category from its path segments alone. It must
// stay self-sufficient: it is the triage fallback when no model is available.
func Classify(rawURL string) Classification {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Classification{Category: CategoryExcluded, Score: 0, Exclude: true}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	if hasExcludedExtension(path) || excludePattern.MatchString(path) {
		return Classification{Category: CategoryExcluded, Score: 0, Exclude: true}
	}

	for _, cp := range categoryPatterns {
		if cp.pattern.MatchString(path) {
			return Classification{Category: cp.category, Score: cp.score}
		}
	}
	return Classification{Category: CategoryOverview, Score: 40}
}

func hasExcludedExtension(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx < strings.LastIndex(path, "/") {
		return false
	}
	_, excluded := excludedExtensions[strings.ToLower(path[idx:])]
	return excluded
}
