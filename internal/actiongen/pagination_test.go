package actiongen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

func TestDetectPagination_Cursor(t *testing.T) {
	t.Parallel()

	ep := apidoc.Endpoint{
		Method: "GET",
		Path:   "/v1/invoices",
		QueryParams: []apidoc.Parameter{
			{Name: "cursor", Type: "string"},
			{Name: "limit", Type: "integer"},
		},
	}
	output := apidoc.NewObject(map[string]*apidoc.Schema{
		"data":        {Type: apidoc.TypeArray, Items: apidoc.OpenObject()},
		"next_cursor": {Type: apidoc.TypeString},
		"has_more":    {Type: apidoc.TypeBoolean},
	}, nil)

	cfg := DetectPagination(ep, output)
	require.NotNil(t, cfg)
	require.Equal(t, StrategyCursor, cfg.Strategy)
	require.Equal(t, "cursor", cfg.CursorParam)
	require.NotEmpty(t, cfg.CursorPath)
	require.Equal(t, "limit", cfg.LimitParam)
	require.Equal(t, "data", cfg.ItemsPath)
	require.Equal(t, "has_more", cfg.HasMorePath)
}

func TestDetectPagination_Offset(t *testing.T) {
	t.Parallel()

	ep := apidoc.Endpoint{
		Method: "GET",
		QueryParams: []apidoc.Parameter{
			{Name: "offset", Type: "integer"},
			{Name: "limit", Type: "integer"},
		},
	}
	cfg := DetectPagination(ep, nil)
	require.NotNil(t, cfg)
	require.Equal(t, StrategyOffset, cfg.Strategy)
	require.Equal(t, "offset", cfg.OffsetParam)
	require.Equal(t, "limit", cfg.LimitParam)
}

func TestDetectPagination_CursorBeatsOffset(t *testing.T) {
	t.Parallel()

	ep := apidoc.Endpoint{
		Method: "GET",
		QueryParams: []apidoc.Parameter{
			{Name: "offset", Type: "integer"},
			{Name: "cursor", Type: "string"},
		},
	}
	cfg := DetectPagination(ep, nil)
	require.NotNil(t, cfg)
	require.Equal(t, StrategyCursor, cfg.Strategy)
}

func TestDetectPagination_WrappedMeta(t *testing.T) {
	t.Parallel()

	output := apidoc.NewObject(map[string]*apidoc.Schema{
		"results": {Type: apidoc.TypeArray, Items: apidoc.OpenObject()},
		"meta": apidoc.NewObject(map[string]*apidoc.Schema{
			"total":       {Type: apidoc.TypeInteger},
			"next_cursor": {Type: apidoc.TypeString},
		}, nil),
	}, nil)

	cfg := DetectPagination(apidoc.Endpoint{Method: "GET"}, output)
	require.NotNil(t, cfg)
	require.Equal(t, StrategyCursor, cfg.Strategy)
	require.Equal(t, "meta.next_cursor", cfg.CursorPath)
	require.Equal(t, "meta.total", cfg.TotalPath)
	require.Equal(t, "results", cfg.ItemsPath)
}

func TestDetectPagination_NoSignals(t *testing.T) {
	t.Parallel()

	ep := apidoc.Endpoint{
		Method:      "GET",
		QueryParams: []apidoc.Parameter{{Name: "verbose", Type: "boolean"}},
	}
	output := apidoc.NewObject(map[string]*apidoc.Schema{
		"id": {Type: apidoc.TypeString},
	}, nil)
	require.Nil(t, DetectPagination(ep, output))
}

func TestDetectPagination_LimitAloneIsNotPaging(t *testing.T) {
	t.Parallel()

	ep := apidoc.Endpoint{
		Method:      "GET",
		QueryParams: []apidoc.Parameter{{Name: "limit", Type: "integer"}},
	}
	require.Nil(t, DetectPagination(ep, nil))
}

func TestDetectPagination_Caps(t *testing.T) {
	t.Parallel()

	cfg := DetectPagination(apidoc.Endpoint{
		Method:      "GET",
		QueryParams: []apidoc.Parameter{{Name: "page", Type: "integer"}},
	}, nil)
	require.NotNil(t, cfg)
	require.Equal(t, StrategyPage, cfg.Strategy)
	require.Equal(t, 5, cfg.MaxPages)
	require.Equal(t, 500, cfg.MaxItems)
	require.Equal(t, 100_000, cfg.MaxChars)
	require.Equal(t, 30*time.Second, cfg.MaxDuration)
}
