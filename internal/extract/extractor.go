// Package extract asks the language model to pull endpoints, auth methods and
// rate limits out of an aggregated documentation corpus, normalizing into the
// same canonical shape the structural parser produces.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
	"github.com/apiharbor/docpipe/internal/llm"
	"github.com/apiharbor/docpipe/internal/metrics"
)

// DefaultContentBudget bounds how much corpus goes into one prompt.
const DefaultContentBudget = 120_000

// Extractor drives schema-validated extraction with bounded retries.
type Extractor struct {
	client        llm.Client
	retry         llm.RetryPolicy
	contentBudget int
	maxTokens     int
	logger        *zap.Logger
}

// New builds an Extractor.
func New(client llm.Client, retry llm.RetryPolicy, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client:        client,
		retry:         retry,
		contentBudget: DefaultContentBudget,
		maxTokens:     16_000,
		logger:        logger,
	}
}

// SetContentBudget overrides the corpus truncation budget.
func (e *Extractor) SetContentBudget(budget int) {
	if budget > 0 {
		e.contentBudget = budget
	}
}

// wireDocument is the JSON shape requested from the model.
type wireDocument struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	BaseURL     string                   `json:"base_url"`
	Version     string                   `json:"version"`
	AuthMethods []wireAuthMethod         `json:"auth_methods"`
	Endpoints   []wireEndpoint           `json:"endpoints"`
	RateLimits  *apidoc.RateLimitsConfig `json:"rate_limits"`
	Confidence  float64                  `json:"confidence"`
}

type wireAuthMethod struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	In          string `json:"in"`
	Scheme      string `json:"scheme"`
	Description string `json:"description"`
}

type wireEndpoint struct {
	Name         string                    `json:"name"`
	Method       string                    `json:"method"`
	Path         string                    `json:"path"`
	Description  string                    `json:"description"`
	PathParams   []apidoc.Parameter        `json:"path_params"`
	QueryParams  []apidoc.Parameter        `json:"query_params"`
	HeaderParams []apidoc.Parameter        `json:"header_params"`
	RequestBody  *wireBody                 `json:"request_body"`
	Responses    map[string]map[string]any `json:"responses"`
	Tags         []string                  `json:"tags"`
	Deprecated   bool                      `json:"deprecated"`
}

type wireBody struct {
	ContentType string         `json:"content_type"`
	Schema      map[string]any `json:"schema"`
	Required    bool           `json:"required"`
}

// Extract runs the prompt-validate-retry loop over the corpus.
func (e *Extractor) Extract(ctx context.Context, corpus string, sourceURLs []string) (*apidoc.Document, error) {
	if strings.TrimSpace(corpus) == "" {
		return nil, fmt.Errorf("corpus is empty")
	}

	truncated := corpus
	var warnings []string
	if len(truncated) > e.contentBudget {
		truncated = truncated[:e.contentBudget]
		warnings = append(warnings, fmt.Sprintf("corpus truncated from %d to %d characters", len(corpus), e.contentBudget))
	}

	prompt := buildPrompt(truncated, sourceURLs)

	var parsed wireDocument
	_, err := e.retry.Generate(ctx, e.client, prompt,
		llm.GenerateOptions{JSONResponse: true, MaxTokens: e.maxTokens},
		func(content string) error {
			var candidate wireDocument
			if err := json.Unmarshal([]byte(stripFences(content)), &candidate); err != nil {
				return fmt.Errorf("extraction output is not valid JSON: %w", err)
			}
			if len(candidate.Endpoints) == 0 {
				return fmt.Errorf("extraction found no endpoints")
			}
			for i, ep := range candidate.Endpoints {
				if ep.Path == "" || ep.Method == "" {
					return fmt.Errorf("endpoint %d is missing method or path", i)
				}
			}
			parsed = candidate
			return nil
		},
		e.logger,
	)
	if err != nil {
		metrics.ObserveLLMCall("extract", "failed")
		return nil, fmt.Errorf("extract document: %w", err)
	}
	metrics.ObserveLLMCall("extract", "ok")

	doc := e.toDocument(parsed, sourceURLs)
	doc.Metadata.Warnings = append(warnings, doc.Metadata.Warnings...)
	return doc, nil
}

func (e *Extractor) toDocument(w wireDocument, sourceURLs []string) *apidoc.Document {
	doc := &apidoc.Document{
		Name:        w.Name,
		Description: w.Description,
		BaseURL:     strings.TrimSuffix(w.BaseURL, "/"),
		Version:     w.Version,
		RateLimits:  w.RateLimits,
		Metadata: apidoc.Metadata{
			ScrapedAt:  time.Now().UTC(),
			SourceURLs: sourceURLs,
			Confidence: clampConfidence(w.Confidence),
		},
	}
	if doc.Name == "" {
		doc.Name = "API"
	}

	for _, am := range w.AuthMethods {
		method := apidoc.AuthMethod{
			Name:        am.Name,
			In:          am.In,
			Scheme:      am.Scheme,
			Description: am.Description,
		}
		switch strings.ToLower(am.Type) {
		case "apikey", "api_key":
			method.Type = apidoc.AuthAPIKey
		case "http", "bearer", "basic":
			method.Type = apidoc.AuthHTTP
			if method.Scheme == "" && strings.ToLower(am.Type) != "http" {
				method.Scheme = strings.ToLower(am.Type)
			}
		case "oauth2", "oauth":
			method.Type = apidoc.AuthOAuth2
		case "openidconnect":
			method.Type = apidoc.AuthOpenID
		default:
			doc.Metadata.Warnings = append(doc.Metadata.Warnings,
				fmt.Sprintf("unknown auth method type %q dropped", am.Type))
			continue
		}
		doc.AuthMethods = append(doc.AuthMethods, method)
	}

	for _, ep := range w.Endpoints {
		if ep.Deprecated {
			// Prompt asks the model to skip these; drop any that slip through.
			continue
		}
		endpoint := apidoc.Endpoint{
			Name:         ep.Name,
			Method:       strings.ToUpper(ep.Method),
			Path:         ep.Path,
			Description:  ep.Description,
			PathParams:   ep.PathParams,
			QueryParams:  ep.QueryParams,
			HeaderParams: ep.HeaderParams,
			Tags:         ep.Tags,
		}
		if endpoint.Name == "" {
			endpoint.Name = endpoint.Method + " " + endpoint.Path
		}
		endpoint.Slug = apidoc.Slugify(endpoint.Name)
		if ep.RequestBody != nil {
			contentType := ep.RequestBody.ContentType
			if contentType == "" {
				contentType = "application/json"
			}
			endpoint.RequestBody = &apidoc.RequestBody{
				ContentType: contentType,
				Schema:      apidoc.SchemaFromAny(ep.RequestBody.Schema, nil),
				Required:    ep.RequestBody.Required,
			}
		}
		if len(ep.Responses) > 0 {
			endpoint.Responses = make(map[string]apidoc.Response, len(ep.Responses))
			for code, raw := range ep.Responses {
				resp := apidoc.Response{}
				resp.Description, _ = raw["description"].(string)
				if schema, ok := raw["schema"]; ok {
					resp.Schema = apidoc.SchemaFromAny(schema, nil)
				}
				endpoint.Responses[code] = resp
			}
		}
		doc.Endpoints = append(doc.Endpoints, endpoint)
	}

	slugWarnings := apidoc.EnsureUniqueSlugs(doc.Endpoints)
	doc.Metadata.Warnings = append(doc.Metadata.Warnings, slugWarnings...)
	return doc
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// stripFences tolerates models wrapping JSON in markdown code fences.
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
