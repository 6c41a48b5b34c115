// Package template recognizes documentation sites generated by well-known
// API frameworks. A match lets the pipeline attach a curated action set
// instead of relying purely on what the pages happen to describe.
package template

import (
	"strings"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

// Detection reports a recognized framework and the curated operations it
// implies.
type Detection struct {
	TemplateID string   `json:"template_id"`
	Confidence float64  `json:"confidence"`
	Actions    []string `json:"actions,omitempty"`
}

// Signal weights. URL evidence is the strongest: a hosted-platform domain is
// rarely a coincidence, while content and endpoint shapes can be imitated.
const (
	urlWeight      = 0.5
	contentWeight  = 0.25
	endpointWeight = 0.25

	// MinConfidence is the floor below which a match is not reported.
	MinConfidence = 0.3
)

type family struct {
	id              string
	urlMarkers      []string
	contentMarkers  []string
	endpointMarkers []string
	actions         []string
}

var families = []family{
	{
		id:             "postgrest",
		urlMarkers:     []string{"supabase.co", "supabase.com", "postgrest"},
		contentMarkers: []string{"row level security", "postgrest", "prefer: return=representation"},
		endpointMarkers: []string{
			"/rest/v1/",
		},
		actions: []string{
			"select-rows", "insert-rows", "update-rows", "upsert-rows", "delete-rows", "call-rpc",
		},
	},
	{
		id:             "generic-crud",
		urlMarkers:     []string{},
		contentMarkers: []string{"create, read, update", "crud operations"},
		endpointMarkers: []string{
			"/{id}",
		},
		actions: []string{
			"list", "get", "create", "update", "delete",
		},
	},
}

// Detector matches a crawled site against known framework families.
type Detector struct {
	logger *zap.Logger
}

// New builds a Detector.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect scores every family against the root URL, the aggregated corpus and
// the parsed endpoints, returning the best match at or above MinConfidence.
// Nil means no framework was recognized.
func (d *Detector) Detect(rootURL, corpus string, doc *apidoc.Document) *Detection {
	lowerURL := strings.ToLower(rootURL)
	lowerCorpus := strings.ToLower(corpus)

	var best *Detection
	for _, f := range families {
		score := f.score(lowerURL, lowerCorpus, doc)
		if score < MinConfidence {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Detection{TemplateID: f.id, Confidence: score, Actions: f.actions}
		}
	}
	if best != nil {
		d.logger.Info("framework template detected",
			zap.String("template_id", best.TemplateID),
			zap.Float64("confidence", best.Confidence))
	}
	return best
}

// score sums one weight per signal class with any marker hit, capped at 1.0.
func (f family) score(lowerURL, lowerCorpus string, doc *apidoc.Document) float64 {
	score := 0.0
	if matchesAny(lowerURL, f.urlMarkers) {
		score += urlWeight
	}
	if matchesAny(lowerCorpus, f.contentMarkers) {
		score += contentWeight
	}
	if doc != nil {
		for _, ep := range doc.Endpoints {
			if matchesAny(strings.ToLower(ep.Path), f.endpointMarkers) {
				score += endpointWeight
				break
			}
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func matchesAny(haystack string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}
