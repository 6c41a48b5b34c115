package apidoc

import (
	"fmt"
	"strings"
)

// SchemaType tags the variant a Schema node represents.
type SchemaType string

// Schema variants.
const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
)

// Schema is a recursive, tagged JSON Schema node. Generation and validation
// code switches on Type instead of probing untyped maps.
type Schema struct {
	Type        SchemaType         `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Format      string             `json:"format,omitempty"`
	Default     any                `json:"default,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// NewObject builds an object schema with the given properties.
func NewObject(properties map[string]*Schema, required []string) *Schema {
	return &Schema{Type: TypeObject, Properties: properties, Required: required}
}

// OpenObject returns an object schema that accepts any properties.
func OpenObject() *Schema {
	return &Schema{Type: TypeObject}
}

// Property returns the named property, descending through meta/pagination
// style wrapper objects is the caller's concern.
func (s *Schema) Property(name string) (*Schema, bool) {
	if s == nil || s.Type != TypeObject {
		return nil, false
	}
	p, ok := s.Properties[name]
	return p, ok
}

const maxSchemaDepth = 24

// SchemaFromAny converts a decoded JSON/YAML schema fragment into a Schema.
// Unknown constructs degrade to permissive nodes rather than failing; resolver
// (may be nil) dereferences local $ref pointers.
func SchemaFromAny(v any, resolver RefResolver) *Schema {
	return schemaFromAny(v, resolver, 0)
}

func schemaFromAny(v any, resolver RefResolver, depth int) *Schema {
	if depth > maxSchemaDepth {
		return OpenObject()
	}
	m, ok := toStringMap(v)
	if !ok {
		return nil
	}

	if ref, ok := m["$ref"].(string); ok {
		if resolver == nil {
			return OpenObject()
		}
		target, err := resolver.Resolve(ref)
		if err != nil {
			return OpenObject()
		}
		return schemaFromAny(target, resolver, depth+1)
	}

	s := &Schema{}
	switch t := m["type"].(type) {
	case string:
		s.Type = SchemaType(t)
	case []any:
		// "type": ["string", "null"] style unions collapse to the first
		// non-null member with Nullable set.
		for _, entry := range t {
			name, _ := entry.(string)
			if name == "null" {
				s.Nullable = true
				continue
			}
			if s.Type == "" {
				s.Type = SchemaType(name)
			}
		}
	}
	if desc, ok := m["description"].(string); ok {
		s.Description = desc
	}
	if format, ok := m["format"].(string); ok {
		s.Format = format
	}
	if nullable, ok := m["nullable"].(bool); ok && nullable {
		s.Nullable = true
	}
	s.Default = m["default"]

	if props, ok := toStringMap(m["properties"]); ok {
		s.Properties = make(map[string]*Schema, len(props))
		for name, raw := range props {
			if child := schemaFromAny(raw, resolver, depth+1); child != nil {
				s.Properties[name] = child
			}
		}
		if s.Type == "" {
			s.Type = TypeObject
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, entry := range required {
			if name, ok := entry.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	if items, ok := m["items"]; ok {
		if child := schemaFromAny(items, resolver, depth+1); child != nil {
			s.Items = child
		}
		if s.Type == "" {
			s.Type = TypeArray
		}
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, entry := range enum {
			s.Enum = append(s.Enum, fmt.Sprintf("%v", entry))
		}
	}
	if s.Type == "" {
		s.Type = TypeObject
	}
	return s
}

// RefResolver dereferences a JSON pointer against a source document.
type RefResolver interface {
	Resolve(ref string) (any, error)
}

// MapRefResolver resolves local "#/..." pointers against a decoded document.
type MapRefResolver struct {
	Root map[string]any
}

// Resolve walks the pointer segments. Only local refs are supported; remote
// refs return an error so callers can degrade to a warning.
func (r MapRefResolver) Resolve(ref string) (any, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported external ref %q", ref)
	}
	var current any = r.Root
	for _, segment := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		m, ok := toStringMap(current)
		if !ok {
			return nil, fmt.Errorf("ref %q: segment %q is not an object", ref, segment)
		}
		current, ok = m[segment]
		if !ok {
			return nil, fmt.Errorf("ref %q: segment %q not found", ref, segment)
		}
	}
	return current, nil
}

// toStringMap accepts both JSON-decoded and YAML-decoded maps.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}
