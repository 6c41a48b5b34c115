package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
	"github.com/apiharbor/docpipe/internal/llm"
)

type fakeLLM struct {
	responses []string
	prompts   []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

const validExtraction = `{
  "name": "Billing API",
  "description": "Invoices and payments",
  "base_url": "https://api.billing.dev/",
  "auth_methods": [{"type": "http", "scheme": "bearer"}],
  "endpoints": [
    {
      "name": "List invoices",
      "method": "get",
      "path": "/v1/invoices",
      "query_params": [{"name": "cursor", "type": "string"}],
      "responses": {"200": {"description": "ok", "schema": {"type": "object", "properties": {"next_cursor": {"type": "string"}}}}}
    },
    {
      "name": "Old list invoices",
      "method": "get",
      "path": "/v0/invoices",
      "deprecated": true,
      "responses": {}
    }
  ],
  "confidence": 1.4
}`

func newExtractor(client llm.Client) *Extractor {
	return New(client, llm.RetryPolicy{Temperatures: []float64{0.2, 0.1, 0.0}}, zap.NewNop())
}

func TestExtract_ValidOutput(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{validExtraction}}
	doc, err := newExtractor(client).Extract(context.Background(), "=== Page: Docs (https://d) ===\nGET /v1/invoices", []string{"https://docs.billing.dev"})
	require.NoError(t, err)

	require.Equal(t, "Billing API", doc.Name)
	require.Equal(t, "https://api.billing.dev", doc.BaseURL)
	require.Len(t, doc.Endpoints, 1, "deprecated endpoint must be dropped")
	require.Equal(t, "GET", doc.Endpoints[0].Method)
	require.Equal(t, "list-invoices", doc.Endpoints[0].Slug)
	require.Equal(t, 1.0, doc.Metadata.Confidence, "confidence is clamped to [0,1]")
	require.Equal(t, []string{"https://docs.billing.dev"}, doc.Metadata.SourceURLs)
	require.Equal(t, apidoc.AuthHTTP, doc.AuthMethods[0].Type)
}

func TestExtract_RetriesOnMalformedOutput(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{"not json at all", validExtraction}}
	doc, err := newExtractor(client).Extract(context.Background(), "corpus", nil)
	require.NoError(t, err)
	require.Len(t, client.prompts, 2)
	require.Len(t, doc.Endpoints, 1)
}

func TestExtract_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{`{"endpoints": []}`}}
	_, err := newExtractor(client).Extract(context.Background(), "corpus", nil)
	require.ErrorIs(t, err, llm.ErrAllAttemptsFailed)
	require.Len(t, client.prompts, 3)
}

func TestExtract_TruncatesToContentBudget(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{validExtraction}}
	e := newExtractor(client)
	e.SetContentBudget(100)

	doc, err := e.Extract(context.Background(), strings.Repeat("x", 1000), nil)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Metadata.Warnings)
	require.Contains(t, doc.Metadata.Warnings[0], "truncated")
	require.Less(t, len(client.prompts[0]), 3000)
}

func TestExtract_FencedJSONTolerated(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{"```json\n" + validExtraction + "\n```"}}
	doc, err := newExtractor(client).Extract(context.Background(), "corpus", nil)
	require.NoError(t, err)
	require.Len(t, doc.Endpoints, 1)
}

func TestExtract_PromptExcludesDeprecated(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{responses: []string{validExtraction}}
	_, err := newExtractor(client).Extract(context.Background(), "corpus", nil)
	require.NoError(t, err)
	require.Contains(t, client.prompts[0], "deprecated")
}

func TestExtract_EmptyCorpus(t *testing.T) {
	t.Parallel()

	_, err := newExtractor(&fakeLLM{responses: []string{validExtraction}}).Extract(context.Background(), "  ", nil)
	require.Error(t, err)
}
