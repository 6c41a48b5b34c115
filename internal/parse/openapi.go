// Package parse deterministically converts OpenAPI and Swagger specifications
// into the canonical apidoc shape. No inference happens here: a structured
// spec yields confidence 1.0 and never touches the language model.
package parse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apiharbor/docpipe/internal/apidoc"
)

var httpMethods = []string{"get", "post", "put", "patch", "delete", "head", "options"}

// IsStructuredSpec reports whether content parses as JSON or YAML and carries
// an OpenAPI/Swagger version marker, or a paths+info pair.
func IsStructuredSpec(content string) bool {
	root, ok := decode(content)
	if !ok {
		return false
	}
	if _, ok := root["openapi"]; ok {
		return true
	}
	if _, ok := root["swagger"]; ok {
		return true
	}
	_, hasPaths := root["paths"]
	_, hasInfo := root["info"]
	return hasPaths && hasInfo
}

// ParseSpec converts a spec document. Validation and dereference problems
// degrade to warnings so a spec with minor issues still yields a usable
// document.
func ParseSpec(content, sourceURL string) (*apidoc.Document, error) {
	root, ok := decode(content)
	if !ok {
		return nil, fmt.Errorf("content is not a JSON or YAML document")
	}

	doc := &apidoc.Document{
		Metadata: apidoc.Metadata{
			ScrapedAt:  time.Now().UTC(),
			SourceURLs: []string{sourceURL},
			Confidence: 1.0,
		},
	}

	if info, ok := stringMap(root["info"]); ok {
		doc.Name, _ = info["title"].(string)
		doc.Description, _ = info["description"].(string)
		doc.Version, _ = info["version"].(string)
	}
	if doc.Name == "" {
		doc.Name = "API"
		doc.Metadata.Warnings = append(doc.Metadata.Warnings, "spec has no info.title")
	}

	doc.BaseURL = baseURL(root, sourceURL)
	if doc.BaseURL == "" {
		doc.Metadata.Warnings = append(doc.Metadata.Warnings, "spec declares no servers or host")
	}

	resolver := apidoc.MapRefResolver{Root: root}
	doc.Endpoints = parsePaths(root, resolver, &doc.Metadata.Warnings)
	if len(doc.Endpoints) == 0 {
		doc.Metadata.Warnings = append(doc.Metadata.Warnings, "spec declares no operations")
	}
	warnings := apidoc.EnsureUniqueSlugs(doc.Endpoints)
	doc.Metadata.Warnings = append(doc.Metadata.Warnings, warnings...)

	doc.AuthMethods = parseSecuritySchemes(root, &doc.Metadata.Warnings)
	return doc, nil
}

func decode(content string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, false
	}
	var viaJSON map[string]any
	if err := json.Unmarshal([]byte(trimmed), &viaJSON); err == nil {
		return viaJSON, true
	}
	var viaYAML map[string]any
	if err := yaml.Unmarshal([]byte(trimmed), &viaYAML); err == nil && len(viaYAML) > 0 {
		return viaYAML, true
	}
	return nil, false
}

// baseURL prefers OpenAPI 3 servers, then Swagger 2 host+basePath.
func baseURL(root map[string]any, sourceURL string) string {
	if servers, ok := root["servers"].([]any); ok && len(servers) > 0 {
		if server, ok := stringMap(servers[0]); ok {
			if u, ok := server["url"].(string); ok {
				return strings.TrimSuffix(u, "/")
			}
		}
	}
	host, _ := root["host"].(string)
	if host == "" {
		return ""
	}
	scheme := "https"
	if schemes, ok := root["schemes"].([]any); ok && len(schemes) > 0 {
		if s, ok := schemes[0].(string); ok {
			scheme = s
		}
	}
	basePath, _ := root["basePath"].(string)
	return strings.TrimSuffix(scheme+"://"+host+basePath, "/")
}

func parsePaths(root map[string]any, resolver apidoc.RefResolver, warnings *[]string) []apidoc.Endpoint {
	paths, ok := stringMap(root["paths"])
	if !ok {
		return nil
	}

	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	var endpoints []apidoc.Endpoint
	for _, path := range pathKeys {
		item, ok := stringMap(paths[path])
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("path %s is not an object, skipped", path))
			continue
		}
		shared := parseParameters(item["parameters"], resolver)
		for _, method := range httpMethods {
			op, ok := stringMap(item[method])
			if !ok {
				continue
			}
			endpoints = append(endpoints, parseOperation(path, method, op, shared, resolver, warnings))
		}
	}
	return endpoints
}

// paramSet groups parameters by location.
type paramSet struct {
	path   []apidoc.Parameter
	query  []apidoc.Parameter
	header []apidoc.Parameter
	body   *apidoc.RequestBody
}

func parseOperation(
	path, method string,
	op map[string]any,
	shared paramSet,
	resolver apidoc.RefResolver,
	warnings *[]string,
) apidoc.Endpoint {
	ep := apidoc.Endpoint{
		Method: strings.ToUpper(method),
		Path:   path,
	}
	ep.Name, _ = op["summary"].(string)
	if ep.Name == "" {
		ep.Name = strings.ToUpper(method) + " " + path
	}
	ep.Description, _ = op["description"].(string)
	if opID, ok := op["operationId"].(string); ok && opID != "" {
		ep.Slug = apidoc.Slugify(opID)
	} else {
		ep.Slug = apidoc.Slugify(method, path)
	}
	if deprecated, ok := op["deprecated"].(bool); ok {
		ep.Deprecated = deprecated
	}
	if tags, ok := op["tags"].([]any); ok {
		for _, t := range tags {
			if name, ok := t.(string); ok {
				ep.Tags = append(ep.Tags, name)
			}
		}
	}

	params := parseParameters(op["parameters"], resolver)
	ep.PathParams = append(append([]apidoc.Parameter{}, shared.path...), params.path...)
	ep.QueryParams = append(append([]apidoc.Parameter{}, shared.query...), params.query...)
	ep.HeaderParams = append(append([]apidoc.Parameter{}, shared.header...), params.header...)

	ep.RequestBody = params.body
	if body := parseRequestBody(op["requestBody"], resolver); body != nil {
		ep.RequestBody = body
	}

	ep.Responses = parseResponses(op["responses"], resolver, path, warnings)
	return ep
}

func parseParameters(raw any, resolver apidoc.RefResolver) paramSet {
	var set paramSet
	list, ok := raw.([]any)
	if !ok {
		return set
	}
	for _, entry := range list {
		m, ok := stringMap(entry)
		if !ok {
			continue
		}
		if ref, ok := m["$ref"].(string); ok && resolver != nil {
			if target, err := resolver.Resolve(ref); err == nil {
				m, ok = stringMap(target)
				if !ok {
					continue
				}
			}
		}
		in, _ := m["in"].(string)
		if in == "body" {
			// Swagger 2 in-body parameter.
			set.body = &apidoc.RequestBody{
				ContentType: "application/json",
				Schema:      apidoc.SchemaFromAny(m["schema"], resolver),
			}
			if required, ok := m["required"].(bool); ok {
				set.body.Required = required
			}
			continue
		}

		p := apidoc.Parameter{}
		p.Name, _ = m["name"].(string)
		if p.Name == "" {
			continue
		}
		p.Description, _ = m["description"].(string)
		if required, ok := m["required"].(bool); ok {
			p.Required = required
		}
		p.Type = parameterType(m, resolver)
		p.Default = parameterDefault(m)
		p.Enum = parameterEnum(m)

		switch in {
		case "path":
			p.Required = true
			set.path = append(set.path, p)
		case "query":
			set.query = append(set.query, p)
		case "header":
			set.header = append(set.header, p)
		}
	}
	return set
}

func parameterType(m map[string]any, resolver apidoc.RefResolver) string {
	if t, ok := m["type"].(string); ok {
		return t
	}
	if schema := apidoc.SchemaFromAny(m["schema"], resolver); schema != nil && schema.Type != "" {
		return string(schema.Type)
	}
	return "string"
}

func parameterDefault(m map[string]any) any {
	if d, ok := m["default"]; ok {
		return d
	}
	if schema, ok := stringMap(m["schema"]); ok {
		return schema["default"]
	}
	return nil
}

func parameterEnum(m map[string]any) []string {
	raw, ok := m["enum"].([]any)
	if !ok {
		if schema, ok := stringMap(m["schema"]); ok {
			raw, _ = schema["enum"].([]any)
		}
	}
	var out []string
	for _, entry := range raw {
		out = append(out, fmt.Sprintf("%v", entry))
	}
	return out
}

func parseRequestBody(raw any, resolver apidoc.RefResolver) *apidoc.RequestBody {
	m, ok := stringMap(raw)
	if !ok {
		return nil
	}
	body := &apidoc.RequestBody{ContentType: "application/json"}
	if required, ok := m["required"].(bool); ok {
		body.Required = required
	}
	content, ok := stringMap(m["content"])
	if !ok {
		return body
	}
	// Prefer JSON; otherwise take the first media type in sorted order.
	mediaTypes := make([]string, 0, len(content))
	for mt := range content {
		mediaTypes = append(mediaTypes, mt)
	}
	sort.Strings(mediaTypes)
	chosen := ""
	for _, mt := range mediaTypes {
		if strings.Contains(mt, "json") {
			chosen = mt
			break
		}
	}
	if chosen == "" && len(mediaTypes) > 0 {
		chosen = mediaTypes[0]
	}
	if chosen == "" {
		return body
	}
	body.ContentType = chosen
	if media, ok := stringMap(content[chosen]); ok {
		body.Schema = apidoc.SchemaFromAny(media["schema"], resolver)
	}
	return body
}

func parseResponses(raw any, resolver apidoc.RefResolver, path string, warnings *[]string) map[string]apidoc.Response {
	m, ok := stringMap(raw)
	if !ok {
		return nil
	}
	out := make(map[string]apidoc.Response, len(m))
	for code, entry := range m {
		rm, ok := stringMap(entry)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("response %s on %s is not an object", code, path))
			continue
		}
		resp := apidoc.Response{}
		resp.Description, _ = rm["description"].(string)
		if content, ok := stringMap(rm["content"]); ok {
			// OpenAPI 3: schema nested under a media type.
			for _, mt := range []string{"application/json", "*/*"} {
				if media, ok := stringMap(content[mt]); ok {
					resp.Schema = apidoc.SchemaFromAny(media["schema"], resolver)
					break
				}
			}
			if resp.Schema == nil {
				for _, media := range content {
					if mm, ok := stringMap(media); ok {
						resp.Schema = apidoc.SchemaFromAny(mm["schema"], resolver)
						break
					}
				}
			}
		} else if schema, ok := rm["schema"]; ok {
			// Swagger 2: schema directly on the response.
			resp.Schema = apidoc.SchemaFromAny(schema, resolver)
		}
		out[code] = resp
	}
	return out
}

func parseSecuritySchemes(root map[string]any, warnings *[]string) []apidoc.AuthMethod {
	var schemes map[string]any
	if components, ok := stringMap(root["components"]); ok {
		schemes, _ = stringMap(components["securitySchemes"])
	}
	if schemes == nil {
		schemes, _ = stringMap(root["securityDefinitions"])
	}
	if schemes == nil {
		return nil
	}

	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)

	var methods []apidoc.AuthMethod
	for _, name := range names {
		m, ok := stringMap(schemes[name])
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("security scheme %s is not an object", name))
			continue
		}
		method := apidoc.AuthMethod{}
		method.Description, _ = m["description"].(string)
		schemeType, _ := m["type"].(string)
		switch schemeType {
		case "apiKey":
			method.Type = apidoc.AuthAPIKey
			method.Name, _ = m["name"].(string)
			method.In, _ = m["in"].(string)
		case "http":
			method.Type = apidoc.AuthHTTP
			method.Scheme, _ = m["scheme"].(string)
		case "basic":
			// Swagger 2 spells HTTP basic as its own type.
			method.Type = apidoc.AuthHTTP
			method.Scheme = "basic"
		case "oauth2":
			method.Type = apidoc.AuthOAuth2
			method.Flows = parseOAuthFlows(m)
		case "openIdConnect":
			method.Type = apidoc.AuthOpenID
		default:
			*warnings = append(*warnings, fmt.Sprintf("unknown security scheme type %q for %s", schemeType, name))
			continue
		}
		if method.Name == "" {
			method.Name = name
		}
		methods = append(methods, method)
	}
	return methods
}

func parseOAuthFlows(m map[string]any) []apidoc.OAuthFlow {
	var out []apidoc.OAuthFlow

	if flows, ok := stringMap(m["flows"]); ok {
		// OpenAPI 3 flow map.
		flowNames := make([]string, 0, len(flows))
		for name := range flows {
			flowNames = append(flowNames, name)
		}
		sort.Strings(flowNames)
		for _, name := range flowNames {
			fm, ok := stringMap(flows[name])
			if !ok {
				continue
			}
			flow := apidoc.OAuthFlow{Flow: name}
			flow.AuthorizationURL, _ = fm["authorizationUrl"].(string)
			flow.TokenURL, _ = fm["tokenUrl"].(string)
			flow.Scopes = parseScopes(fm["scopes"])
			out = append(out, flow)
		}
		return out
	}

	// Swagger 2: single flow on the scheme itself.
	flowName, _ := m["flow"].(string)
	if flowName == "" {
		return nil
	}
	flow := apidoc.OAuthFlow{Flow: flowName}
	flow.AuthorizationURL, _ = m["authorizationUrl"].(string)
	flow.TokenURL, _ = m["tokenUrl"].(string)
	flow.Scopes = parseScopes(m["scopes"])
	return []apidoc.OAuthFlow{flow}
}

func parseScopes(raw any) map[string]string {
	m, ok := stringMap(raw)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for scope, desc := range m {
		out[scope], _ = desc.(string)
	}
	return out
}

func stringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if key, ok := k.(string); ok {
				out[key] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}
