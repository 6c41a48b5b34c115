// Package apidoc defines the canonical API description produced by the
// documentation pipeline. Both the structural OpenAPI parser and the
// AI extractor normalize into these types, which keeps every downstream
// consumer origin-agnostic.
package apidoc

import "time"

// AuthType enumerates supported authentication scheme families.
type AuthType string

// Authentication scheme families.
const (
	AuthAPIKey AuthType = "apiKey"
	AuthHTTP   AuthType = "http"
	AuthOAuth2 AuthType = "oauth2"
	AuthOpenID AuthType = "openIdConnect"
)

// OAuthFlow describes a single OAuth2 flow with its endpoints and scopes.
type OAuthFlow struct {
	Flow             string            `json:"flow"`
	AuthorizationURL string            `json:"authorization_url,omitempty"`
	TokenURL         string            `json:"token_url,omitempty"`
	Scopes           map[string]string `json:"scopes,omitempty"`
}

// AuthMethod describes one way of authenticating against the API.
type AuthMethod struct {
	Type        AuthType    `json:"type"`
	Name        string      `json:"name,omitempty"`   // parameter name for apiKey schemes
	In          string      `json:"in,omitempty"`     // header, query or cookie
	Scheme      string      `json:"scheme,omitempty"` // bearer or basic for http schemes
	Flows       []OAuthFlow `json:"flows,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Parameter is a single path, query or header parameter of an endpoint.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// RequestBody describes the body an endpoint accepts.
type RequestBody struct {
	ContentType string  `json:"content_type"`
	Schema      *Schema `json:"schema,omitempty"`
	Required    bool    `json:"required,omitempty"`
}

// Response describes one response variant, keyed by status code in Endpoint.
type Response struct {
	Description string  `json:"description,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

// Endpoint is a single callable API operation.
type Endpoint struct {
	Name         string              `json:"name"`
	Slug         string              `json:"slug"`
	Method       string              `json:"method"`
	Path         string              `json:"path"`
	Description  string              `json:"description,omitempty"`
	PathParams   []Parameter         `json:"path_params,omitempty"`
	QueryParams  []Parameter         `json:"query_params,omitempty"`
	HeaderParams []Parameter         `json:"header_params,omitempty"`
	RequestBody  *RequestBody        `json:"request_body,omitempty"`
	Responses    map[string]Response `json:"responses,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	Deprecated   bool                `json:"deprecated,omitempty"`
}

// RateLimitsConfig captures documented rate limits for the API.
type RateLimitsConfig struct {
	RequestsPerSecond int    `json:"requests_per_second,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	RequestsPerHour   int    `json:"requests_per_hour,omitempty"`
	Burst             int    `json:"burst,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Metadata records provenance and quality signals for a document.
type Metadata struct {
	ScrapedAt  time.Time `json:"scraped_at"`
	SourceURLs []string  `json:"source_urls,omitempty"`
	Confidence float64   `json:"confidence"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// Document is the canonical machine-usable description of one API.
type Document struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	BaseURL     string            `json:"base_url"`
	Version     string            `json:"version,omitempty"`
	AuthMethods []AuthMethod      `json:"auth_methods,omitempty"`
	Endpoints   []Endpoint        `json:"endpoints"`
	RateLimits  *RateLimitsConfig `json:"rate_limits,omitempty"`
	Metadata    Metadata          `json:"metadata"`
}

// EndpointCount returns the number of endpoints in the document.
func (d *Document) EndpointCount() int {
	if d == nil {
		return 0
	}
	return len(d.Endpoints)
}
