// Package actiongen turns a canonical API document into executable action
// definitions: one flat input schema per endpoint, an output schema from the
// success response, and pagination wiring for list endpoints.
package actiongen

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

// Action is one callable operation derived from an endpoint. Endpoint is the
// fully qualified URL template, base URL joined with the path; path
// parameters stay in {brace} form for the executor.
type Action struct {
	Name            string            `json:"name"`
	Slug            string            `json:"slug"`
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Endpoint        string            `json:"endpoint"`
	Description     string            `json:"description,omitempty"`
	InputSchema     *apidoc.Schema    `json:"input_schema"`
	OutputSchema    *apidoc.Schema    `json:"output_schema"`
	Pagination      *PaginationConfig `json:"pagination,omitempty"`
	Retry           RetryConfig       `json:"retry"`
	Cacheable       bool              `json:"cacheable"`
	CacheTTLSeconds int               `json:"cache_ttl_seconds,omitempty"`
	Score           float64           `json:"score"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        Metadata          `json:"metadata"`
}

// RetryConfig is client retry guidance for one action.
type RetryConfig struct {
	MaxAttempts      int   `json:"max_attempts"`
	InitialBackoffMs int64 `json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `json:"max_backoff_ms"`
	RetryOn          []int `json:"retry_on,omitempty"`
}

// Metadata carries provenance and limits copied from the source document.
type Metadata struct {
	Confidence float64                  `json:"confidence"`
	RateLimits *apidoc.RateLimitsConfig `json:"rate_limits,omitempty"`
	SourceURLs []string                 `json:"source_urls,omitempty"`
}

// Options tunes generation.
type Options struct {
	// Wishlist biases scoring toward operations the caller asked for.
	Wishlist []string
	// MinPaginationConfidence gates pagination inference: below it the
	// document is too uncertain to trust inferred paging wiring.
	MinPaginationConfidence float64
}

// DefaultMinPaginationConfidence is the document confidence below which
// pagination inference is skipped.
const DefaultMinPaginationConfidence = 0.5

// Generator builds actions from documents.
type Generator struct {
	opts   Options
	logger *zap.Logger
}

// New builds a Generator.
func New(opts Options, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinPaginationConfidence == 0 {
		opts.MinPaginationConfidence = DefaultMinPaginationConfidence
	}
	return &Generator{opts: opts, logger: logger}
}

// Headers supplied by auth or transport plumbing, never by the caller.
var standardHeaders = map[string]bool{
	"authorization": true,
	"content-type":  true,
	"accept":        true,
	"user-agent":    true,
}

// Generate builds one action per non-deprecated endpoint, sorted by score
// descending with name ascending as the tiebreak.
func (g *Generator) Generate(doc *apidoc.Document) []Action {
	if doc == nil {
		return nil
	}
	inferPagination := doc.Metadata.Confidence >= g.opts.MinPaginationConfidence

	actions := make([]Action, 0, len(doc.Endpoints))
	for _, ep := range doc.Endpoints {
		if ep.Deprecated {
			continue
		}
		action := Action{
			Name:         ep.Name,
			Slug:         ep.Slug,
			Method:       ep.Method,
			Path:         ep.Path,
			Endpoint:     joinEndpoint(doc.BaseURL, ep.Path),
			Description:  ep.Description,
			InputSchema:  buildInputSchema(ep),
			OutputSchema: buildOutputSchema(ep),
			Retry:        retryConfig(ep.Method),
			Cacheable:    ep.Method == "GET",
			Score:        wishlistScore(ep, g.opts.Wishlist),
			Tags:         ep.Tags,
			Metadata: Metadata{
				Confidence: doc.Metadata.Confidence,
				RateLimits: doc.RateLimits,
				SourceURLs: doc.Metadata.SourceURLs,
			},
		}
		if action.Slug == "" {
			action.Slug = apidoc.Slugify(ep.Method, ep.Path)
		}
		if action.Cacheable {
			action.CacheTTLSeconds = defaultCacheTTLSeconds
		}
		if inferPagination && ep.Method == "GET" {
			action.Pagination = DetectPagination(ep, action.OutputSchema)
		}
		actions = append(actions, action)
	}

	ensureUniqueActionSlugs(actions)

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Score != actions[j].Score {
			return actions[i].Score > actions[j].Score
		}
		return actions[i].Name < actions[j].Name
	})

	g.logger.Debug("generated actions",
		zap.Int("endpoints", len(doc.Endpoints)),
		zap.Int("actions", len(actions)),
		zap.Bool("pagination_inferred", inferPagination))
	return actions
}

// buildInputSchema flattens path, query, caller-settable header parameters
// and request-body properties into a single object schema.
func buildInputSchema(ep apidoc.Endpoint) *apidoc.Schema {
	properties := map[string]*apidoc.Schema{}
	var required []string

	addParam := func(p apidoc.Parameter, alwaysRequired bool) {
		if _, exists := properties[p.Name]; exists {
			return
		}
		properties[p.Name] = paramSchema(p)
		if alwaysRequired || p.Required {
			required = append(required, p.Name)
		}
	}

	for _, p := range ep.PathParams {
		addParam(p, true)
	}
	for _, p := range ep.QueryParams {
		addParam(p, false)
	}
	for _, p := range ep.HeaderParams {
		if standardHeaders[strings.ToLower(p.Name)] {
			continue
		}
		addParam(p, false)
	}

	if ep.RequestBody != nil && ep.RequestBody.Schema != nil {
		body := ep.RequestBody.Schema
		if body.Type == apidoc.TypeObject && len(body.Properties) > 0 {
			bodyRequired := map[string]bool{}
			for _, name := range body.Required {
				bodyRequired[name] = true
			}
			for name, prop := range body.Properties {
				if _, exists := properties[name]; exists {
					continue
				}
				properties[name] = prop
				if bodyRequired[name] {
					required = append(required, name)
				}
			}
		} else {
			// Non-object bodies ride under a single "body" property.
			if _, exists := properties["body"]; !exists {
				properties["body"] = body
				if ep.RequestBody.Required {
					required = append(required, "body")
				}
			}
		}
	}

	sort.Strings(required)
	return apidoc.NewObject(properties, required)
}

// paramSchema converts one parameter into a schema node. Unknown or missing
// types degrade to string, the wire form every parameter already has.
func paramSchema(p apidoc.Parameter) *apidoc.Schema {
	t := apidoc.SchemaType(strings.ToLower(p.Type))
	switch t {
	case apidoc.TypeString, apidoc.TypeNumber, apidoc.TypeInteger,
		apidoc.TypeBoolean, apidoc.TypeArray, apidoc.TypeObject:
	default:
		t = apidoc.TypeString
	}
	return &apidoc.Schema{
		Type:        t,
		Description: p.Description,
		Enum:        p.Enum,
		Default:     p.Default,
	}
}

// defaultCacheTTLSeconds is how long executors may serve a cached GET.
const defaultCacheTTLSeconds = 300

var retryableStatuses = []int{429, 500, 502, 503, 504}

// retryConfig picks retry guidance by method: idempotent methods retry on
// transient statuses, everything else gets a single attempt.
func retryConfig(method string) RetryConfig {
	cfg := RetryConfig{
		MaxAttempts:      1,
		InitialBackoffMs: 500,
		MaxBackoffMs:     8000,
	}
	switch method {
	case "GET", "HEAD", "PUT", "DELETE":
		cfg.MaxAttempts = 3
		cfg.RetryOn = append([]int(nil), retryableStatuses...)
	}
	return cfg
}

func joinEndpoint(baseURL, path string) string {
	if baseURL == "" {
		return path
	}
	if path == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Success codes in preference order for the output schema.
var successCodes = []string{"200", "201", "202", "204", "default"}

func buildOutputSchema(ep apidoc.Endpoint) *apidoc.Schema {
	for _, code := range successCodes {
		if resp, ok := ep.Responses[code]; ok && resp.Schema != nil {
			return resp.Schema
		}
	}
	return apidoc.OpenObject()
}

// wishlistScore is the fraction of wishlist entries the endpoint satisfies.
// An entry counts as matched when every one of its words appears in the
// endpoint's text. With no wishlist every action scores zero and ordering
// falls back to name-ascending.
func wishlistScore(ep apidoc.Endpoint, wishlist []string) float64 {
	if len(wishlist) == 0 {
		return 0
	}
	haystack := strings.ToLower(strings.Join(append([]string{
		ep.Name, ep.Path, ep.Description, ep.Slug,
	}, ep.Tags...), " "))

	matched := 0
	for _, want := range wishlist {
		if matchesEntry(haystack, want) {
			matched++
		}
	}
	return float64(matched) / float64(len(wishlist))
}

func matchesEntry(haystack, entry string) bool {
	terms := strings.Fields(strings.ToLower(entry))
	if len(terms) == 0 {
		return false
	}
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// ensureUniqueActionSlugs disambiguates with the method, then a counter.
func ensureUniqueActionSlugs(actions []Action) {
	seen := map[string]bool{}
	for i := range actions {
		slug := actions[i].Slug
		if !seen[slug] {
			seen[slug] = true
			continue
		}
		candidate := slug + "-" + strings.ToLower(actions[i].Method)
		for n := 2; seen[candidate]; n++ {
			candidate = slug + "-" + strconv.Itoa(n)
		}
		actions[i].Slug = candidate
		seen[candidate] = true
	}
}
