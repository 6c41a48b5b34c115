package extract

import (
	"fmt"
	"strings"
)

// buildPrompt asks the model for the same canonical shape the structural
// parser produces. Deprecated endpoints are excluded by instruction rather
// than post-filtered, to save extraction budget for live endpoints.
func buildPrompt(corpus string, sourceURLs []string) string {
	var b strings.Builder
	b.WriteString("You are extracting a machine-usable API description from documentation pages.\n")
	if len(sourceURLs) > 0 {
		fmt.Fprintf(&b, "Pages were fetched from: %s\n", strings.Join(sourceURLs, ", "))
	}
	b.WriteString(`
Return JSON only, with this exact shape:
{
  "name": "API name",
  "description": "short description",
  "base_url": "https://api.example.com",
  "version": "optional version",
  "auth_methods": [
    {"type": "apiKey|http|oauth2|openIdConnect", "name": "header or param name", "in": "header|query", "scheme": "bearer|basic", "description": "..."}
  ],
  "endpoints": [
    {
      "name": "List users",
      "method": "GET",
      "path": "/v1/users/{id}",
      "description": "...",
      "path_params": [{"name": "id", "type": "string", "required": true}],
      "query_params": [{"name": "limit", "type": "integer", "required": false}],
      "header_params": [],
      "request_body": {"content_type": "application/json", "schema": {"type": "object", "properties": {}}, "required": true},
      "responses": {"200": {"description": "ok", "schema": {"type": "object", "properties": {}}}},
      "tags": [],
      "deprecated": false
    }
  ],
  "rate_limits": {"requests_per_second": 0, "requests_per_minute": 0, "requests_per_hour": 0, "notes": ""},
  "confidence": 0.0
}

Rules:
- Extract only endpoints the documentation actually describes; never invent paths.
- Skip deprecated or sunset endpoints entirely.
- Use {param} placeholders in paths.
- Schemas use JSON Schema types: object, array, string, number, integer, boolean.
- confidence is your overall confidence in the extraction, between 0 and 1.
- Omit rate_limits if the documentation never mentions limits.

Documentation corpus:
`)
	b.WriteString(corpus)
	return b.String()
}
