package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema renders schemas as a JSON Schema object document.
func JSONSchema(schemas []Schema) map[string]any {
	props := make(map[string]any, len(schemas))
	required := make([]any, 0)
	for _, s := range schemas {
		p := typeSchema(s.Type)
		if s.DisplayName != "" {
			p["title"] = s.DisplayName
		}
		if s.Description != "" {
			p["description"] = s.Description
		}
		if s.Default != nil {
			p["default"] = s.Default
		}
		if s.Sensitive {
			p["writeOnly"] = true
		}
		props[s.Name] = p
		if s.Required {
			required = append(required, s.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func typeSchema(t Type) map[string]any {
	switch v := t.(type) {
	case StringType:
		m := map[string]any{"type": "string"}
		if v.MinLength > 0 {
			m["minLength"] = v.MinLength
		}
		if v.MaxLength > 0 {
			m["maxLength"] = v.MaxLength
		}
		if v.Pattern != "" {
			m["pattern"] = v.Pattern
		}
		return m
	case IntType:
		m := map[string]any{"type": []any{"integer", "string"}, "pattern": intLiteral.String()}
		if v.Min != nil {
			m["minimum"] = *v.Min
		}
		if v.Max != nil {
			m["maximum"] = *v.Max
		}
		return m
	case FloatType:
		m := map[string]any{"type": []any{"number", "string"}, "pattern": floatLiteral.String()}
		if v.Min != nil {
			m["minimum"] = *v.Min
		}
		if v.Max != nil {
			m["maximum"] = *v.Max
		}
		return m
	case BoolType:
		return map[string]any{"type": []any{"boolean", "string"}, "enum": []any{true, false, "true", "false"}}
	case SelectionType:
		return map[string]any{"type": "string", "enum": optionKeys(v.Options)}
	case MultiSelectionType:
		m := map[string]any{
			"type":        "array",
			"uniqueItems": true,
			"items":       map[string]any{"type": "string", "enum": optionKeys(v.Options)},
		}
		if v.MinSelected > 0 {
			m["minItems"] = v.MinSelected
		}
		if v.MaxSelected > 0 {
			m["maxItems"] = v.MaxSelected
		}
		return m
	case FilePathType:
		m := map[string]any{"type": "string", "minLength": 1}
		if len(v.Extensions) > 0 && !v.Directory {
			m["x-extensions"] = v.Extensions
		}
		return m
	}
	return map[string]any{}
}

func optionKeys(opts []Option) []any {
	out := make([]any, len(opts))
	for i, o := range opts {
		out[i] = o.Key
	}
	return out
}

// Compile compiles doc (as produced by JSONSchema) with santhosh-tekuri/jsonschema.
func Compile(url string, doc map[string]any) (*jsonschema.Schema, error) {
	normalized, err := Normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, normalized); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Normalize round-trips v through JSON so numbers become json.Number, the
// representation the schema validator expects.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}
