package template

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

func TestDetect_PostgrestFromURLAndContent(t *testing.T) {
	t.Parallel()

	d := New(zap.NewNop())
	got := d.Detect(
		"https://abcd1234.supabase.co/rest/v1",
		"Tables are protected with Row Level Security policies.",
		nil,
	)
	require.NotNil(t, got)
	require.Equal(t, "postgrest", got.TemplateID)
	require.GreaterOrEqual(t, got.Confidence, MinConfidence)
	require.InDelta(t, 0.75, got.Confidence, 1e-9)
	require.Contains(t, got.Actions, "select-rows")
	require.Contains(t, got.Actions, "call-rpc")
}

func TestDetect_AllSignalsCappedAtOne(t *testing.T) {
	t.Parallel()

	doc := &apidoc.Document{Endpoints: []apidoc.Endpoint{
		{Method: "GET", Path: "/rest/v1/orders"},
	}}
	got := New(zap.NewNop()).Detect(
		"https://abcd1234.supabase.co",
		"PostgREST serves the schema directly.",
		doc,
	)
	require.NotNil(t, got)
	require.InDelta(t, 1.0, got.Confidence, 1e-9)
}

func TestDetect_ContentAloneBelowFloor(t *testing.T) {
	t.Parallel()

	got := New(zap.NewNop()).Detect(
		"https://docs.example.com",
		"Our API supports Row Level Security.",
		nil,
	)
	require.Nil(t, got, "a single 0.25 content signal stays under the floor")
}

func TestDetect_NoSignals(t *testing.T) {
	t.Parallel()

	got := New(zap.NewNop()).Detect("https://docs.example.com", "plain REST docs", nil)
	require.Nil(t, got)
}

func TestDetect_EndpointSignalCountsOnce(t *testing.T) {
	t.Parallel()

	doc := &apidoc.Document{Endpoints: []apidoc.Endpoint{
		{Method: "GET", Path: "/rest/v1/orders"},
		{Method: "GET", Path: "/rest/v1/users"},
	}}
	got := New(zap.NewNop()).Detect("https://app.supabase.co", "", doc)
	require.NotNil(t, got)
	require.InDelta(t, 0.75, got.Confidence, 1e-9)
}
