package actiongen

import (
	"strings"
	"time"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

// PaginationStrategy names how a list endpoint pages.
type PaginationStrategy string

// Supported strategies, in detection precedence order.
const (
	StrategyCursor PaginationStrategy = "cursor"
	StrategyOffset PaginationStrategy = "offset"
	StrategyPage   PaginationStrategy = "page"
)

// PaginationConfig maps an endpoint's paging parameters and response fields.
// The caps keep iteration friendly to token-budgeted language-model callers.
type PaginationConfig struct {
	Strategy    PaginationStrategy `json:"strategy"`
	CursorParam string             `json:"cursor_param,omitempty"`
	CursorPath  string             `json:"cursor_path,omitempty"`
	OffsetParam string             `json:"offset_param,omitempty"`
	PageParam   string             `json:"page_param,omitempty"`
	LimitParam  string             `json:"limit_param,omitempty"`
	ItemsPath   string             `json:"items_path,omitempty"`
	HasMorePath string             `json:"has_more_path,omitempty"`
	TotalPath   string             `json:"total_path,omitempty"`
	MaxPages    int                `json:"max_pages"`
	MaxItems    int                `json:"max_items"`
	MaxChars    int                `json:"max_chars"`
	MaxDuration time.Duration      `json:"max_duration"`
}

// Caps for downstream consumers that are token-budgeted model callers, not
// human paginators.
const (
	paginationMaxPages    = 5
	paginationMaxItems    = 500
	paginationMaxChars    = 100_000
	paginationMaxDuration = 30 * time.Second
)

// Known parameter vocabularies, matched case-insensitively.
var (
	cursorParams = []string{"cursor", "next_cursor", "page_token", "pagetoken", "after", "starting_after", "next"}
	offsetParams = []string{"offset", "skip", "start"}
	pageParams   = []string{"page", "page_number", "page_num", "pagenum"}
	limitParams  = []string{"limit", "per_page", "page_size", "pagesize", "count", "max_results", "size"}
)

// Known response field vocabularies.
var (
	cursorFields  = []string{"next_cursor", "nextcursor", "next_page_token", "cursor", "next", "after"}
	hasMoreFields = []string{"has_more", "hasmore", "has_next", "hasnext", "more"}
	totalFields   = []string{"total", "total_count", "totalcount", "total_results", "count"}
	itemsFields   = []string{"data", "items", "results", "records", "entries"}
	wrapperFields = []string{"meta", "pagination", "paging", "page_info"}
)

// DetectPagination infers a PaginationConfig from an endpoint's query
// parameters and its success-response schema. Either signal set alone is
// enough to emit a config; nil means the endpoint does not paginate.
func DetectPagination(ep apidoc.Endpoint, output *apidoc.Schema) *PaginationConfig {
	cfg := &PaginationConfig{
		MaxPages:    paginationMaxPages,
		MaxItems:    paginationMaxItems,
		MaxChars:    paginationMaxChars,
		MaxDuration: paginationMaxDuration,
	}

	paramSignal := scanParams(ep.QueryParams, cfg)
	responseSignal := scanResponse(output, cfg)
	if !paramSignal && !responseSignal {
		return nil
	}

	switch {
	case cfg.CursorParam != "" || cfg.CursorPath != "":
		cfg.Strategy = StrategyCursor
	case cfg.OffsetParam != "":
		cfg.Strategy = StrategyOffset
	case cfg.PageParam != "":
		cfg.Strategy = StrategyPage
	default:
		// Response-only signals without a request knob still imply paging;
		// cursor paths pick cursor, otherwise assume page numbering.
		if cfg.HasMorePath != "" || cfg.ItemsPath != "" || cfg.TotalPath != "" {
			cfg.Strategy = StrategyPage
		}
	}
	if cfg.Strategy == "" {
		return nil
	}
	return cfg
}

func scanParams(params []apidoc.Parameter, cfg *PaginationConfig) bool {
	found := false
	for _, p := range params {
		name := strings.ToLower(p.Name)
		switch {
		case cfg.CursorParam == "" && contains(cursorParams, name):
			cfg.CursorParam = p.Name
			found = true
		case cfg.OffsetParam == "" && contains(offsetParams, name):
			cfg.OffsetParam = p.Name
			found = true
		case cfg.PageParam == "" && contains(pageParams, name):
			cfg.PageParam = p.Name
			found = true
		case cfg.LimitParam == "" && contains(limitParams, name):
			cfg.LimitParam = p.Name
			// A bare limit param is not paging evidence on its own.
		}
	}
	return found
}

// scanResponse looks for paging fields at the top level of the response
// schema and one level deeper under meta/pagination style wrappers.
func scanResponse(schema *apidoc.Schema, cfg *PaginationConfig) bool {
	if schema == nil || schema.Type != apidoc.TypeObject {
		return false
	}
	found := scanResponseLevel(schema, "", cfg)
	for _, wrapper := range wrapperFields {
		if nested, ok := schema.Property(wrapper); ok && nested != nil && nested.Type == apidoc.TypeObject {
			if scanResponseLevel(nested, wrapper+".", cfg) {
				found = true
			}
		}
	}
	return found
}

func scanResponseLevel(schema *apidoc.Schema, prefix string, cfg *PaginationConfig) bool {
	found := false
	for name, prop := range schema.Properties {
		lower := strings.ToLower(name)
		switch {
		case cfg.CursorPath == "" && contains(cursorFields, lower):
			cfg.CursorPath = prefix + name
			found = true
		case cfg.HasMorePath == "" && contains(hasMoreFields, lower):
			cfg.HasMorePath = prefix + name
			found = true
		case cfg.TotalPath == "" && contains(totalFields, lower):
			cfg.TotalPath = prefix + name
			found = true
		case cfg.ItemsPath == "" && prop != nil && prop.Type == apidoc.TypeArray && contains(itemsFields, lower):
			cfg.ItemsPath = prefix + name
			found = true
		}
	}
	return found
}

func contains(vocab []string, name string) bool {
	for _, v := range vocab {
		if v == name {
			return true
		}
	}
	return false
}
