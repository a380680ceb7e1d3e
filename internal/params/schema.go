package params

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Schema declares one configurable parameter of a runner.
type Schema struct {
	Name        string
	DisplayName string
	Description string
	Category    string
	Type        Type
	Default     any
	Required    bool
	Sensitive   bool
}

// Validate checks v against s. A nil v means the value is absent.
func (s Schema) Validate(v any) Result {
	if v == nil {
		if s.Required {
			return invalid("%s is required", s.label())
		}
		return accepted
	}
	if s.Type == nil {
		return invalid("%s has no type", s.label())
	}
	return s.Type.Validate(v)
}

func (s Schema) label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// FieldError is a validation failure for one named parameter.
type FieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ValidationError aggregates field failures in schema order.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Name + ": " + f.Message
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// ValidateAll validates values against schemas. Unknown keys are rejected.
// It returns nil or a *ValidationError.
func ValidateAll(schemas []Schema, values map[string]any) error {
	var fields []FieldError
	known := make(map[string]struct{}, len(schemas))
	for _, s := range schemas {
		known[s.Name] = struct{}{}
		if r := s.Validate(values[s.Name]); !r.Valid {
			fields = append(fields, FieldError{Name: s.Name, Message: r.Message})
		}
	}
	unknown := make([]string, 0)
	for k := range values {
		if _, found := known[k]; !found {
			unknown = append(unknown, k)
		}
	}
	slices.Sort(unknown)
	for _, k := range unknown {
		fields = append(fields, FieldError{Name: k, Message: "unknown parameter"})
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Defaults returns the declared default of every schema that has one.
func Defaults(schemas []Schema) map[string]any {
	out := make(map[string]any, len(schemas))
	for _, s := range schemas {
		if s.Default != nil {
			out[s.Name] = s.Default
		}
	}
	return out
}

// Merge layers values over defaults. Later layers win; nil values are skipped.
func Merge(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, l := range layers {
		for k, v := range l {
			if v != nil {
				out[k] = v
			}
		}
	}
	return out
}

const redacted = "********"

// Redact returns a copy of values with sensitive parameters masked.
func Redact(schemas []Schema, values map[string]any) map[string]any {
	out := maps.Clone(values)
	for _, s := range schemas {
		if _, present := out[s.Name]; present && s.Sensitive {
			out[s.Name] = redacted
		}
	}
	return out
}

// Find returns the schema named name.
func Find(schemas []Schema, name string) (Schema, bool) {
	i := slices.IndexFunc(schemas, func(s Schema) bool { return s.Name == name })
	if i < 0 {
		return Schema{}, false
	}
	return schemas[i], true
}

// CheckDeclarations reports structural problems in a schema list: empty or
// duplicate names, missing types and defaults that fail their own type.
func CheckDeclarations(schemas []Schema) error {
	seen := map[string]struct{}{}
	for _, s := range schemas {
		if s.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("parameter %q declared twice", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Type == nil {
			return fmt.Errorf("parameter %q has no type", s.Name)
		}
		if s.Default != nil {
			if r := s.Type.Validate(s.Default); !r.Valid {
				return fmt.Errorf("parameter %q default: %s", s.Name, r.Message)
			}
		}
	}
	return nil
}
