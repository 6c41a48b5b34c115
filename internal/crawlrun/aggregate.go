package crawlrun

import (
	"fmt"
	"strings"

	"github.com/apiharbor/docpipe/internal/triage"
)

// categoryOrder puts the most load-bearing content first so it survives any
// downstream context-window truncation: authentication, then overview and
// getting-started, then endpoint material, then everything else.
var categoryOrder = []triage.Category{
	triage.CategoryAuth,
	triage.CategoryOverview,
	triage.CategoryGettingStarted,
	triage.CategoryEndpoint,
	triage.CategoryReference,
	triage.CategoryRateLimit,
}

// Aggregate joins fetched pages into one corpus, grouped by category and
// prefixed with a per-page header carrying the source URL and title.
func Aggregate(pages []Page) string {
	var b strings.Builder
	emitted := make(map[int]struct{}, len(pages))

	for _, cat := range categoryOrder {
		for i, p := range pages {
			if p.Err != nil || p.Category != cat {
				continue
			}
			writePage(&b, p)
			emitted[i] = struct{}{}
		}
	}
	for i, p := range pages {
		if p.Err != nil {
			continue
		}
		if _, done := emitted[i]; done {
			continue
		}
		writePage(&b, p)
	}
	return b.String()
}

func writePage(b *strings.Builder, p Page) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(b, "=== Page: %s (%s) ===\n", p.Title, p.URL)
	b.WriteString(strings.TrimSpace(p.Content))
	b.WriteString("\n")
}
