// Package settings loads, validates, persists and watches the engine
// settings document.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

const documentURL = "inferd://settings.json"

var documentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return params.Compile(documentURL, map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"selectedRunners": map[string]any{
				"type":                 []any{"object", "null"},
				"additionalProperties": map[string]any{"type": "string"},
			},
			"runnerParameters": map[string]any{
				"type":                 []any{"object", "null"},
				"additionalProperties": map[string]any{"type": []any{"object", "null"}},
			},
		},
	})
})

// Format is a settings document encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatOf picks the format from the file extension. Anything but .yaml
// and .yml is JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes and structurally checks a settings document. An empty
// document is empty settings.
func Parse(data []byte, f Format) (types.EngineSettings, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return types.EngineSettings{}.Clone(), nil
	}
	raw := data
	if f == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return types.EngineSettings{}, types.Wrap(types.CodeInvalidInput, fmt.Errorf("decode yaml: %w", err))
		}
		b, err := json.Marshal(v)
		if err != nil {
			return types.EngineSettings{}, types.Wrap(types.CodeInvalidInput, fmt.Errorf("convert yaml: %w", err))
		}
		raw = b
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return types.EngineSettings{}, types.Wrap(types.CodeInvalidInput, fmt.Errorf("decode json: %w", err))
	}
	schema, err := documentSchema()
	if err != nil {
		return types.EngineSettings{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return types.EngineSettings{}, types.Wrap(types.CodeInvalidInput, err)
	}
	var s types.EngineSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.EngineSettings{}, types.Wrap(types.CodeInvalidInput, err)
	}
	return s.Clone(), nil
}

// Encode renders s as indented JSON, which every supported format reads.
func Encode(s types.EngineSettings) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Lookup finds registered runners by name.
type Lookup interface {
	Lookup(name string) (runner.Runner, bool)
}

// Validate checks s against the registered runners: every selection names
// a registered runner serving that capability, and every parameter map of
// a registered runner passes the runner's schema and cross-field checks.
// Parameters of runners unknown here are kept unchecked.
func Validate(s types.EngineSettings, runners Lookup) error {
	var errs []error
	for _, c := range types.Capabilities {
		name, ok := s.Selected(c)
		if !ok {
			continue
		}
		r, found := runners.Lookup(name)
		switch {
		case !found:
			errs = append(errs, fmt.Errorf("selectedRunners.%s: runner %q is not registered", c, name))
		case !runner.Supports(r, c):
			errs = append(errs, fmt.Errorf("selectedRunners.%s: runner %q does not support %s", c, name, c))
		}
	}
	names := make([]string, 0, len(s.RunnerParameters))
	for name := range s.RunnerParameters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r, found := runners.Lookup(name)
		if !found {
			continue
		}
		values := params.Merge(params.Defaults(runner.Schemas(r)), s.RunnerParameters[name])
		if err := runner.ValidateParameters(r, values); err != nil {
			errs = append(errs, fmt.Errorf("runnerParameters.%s: %w", name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return types.Wrap(types.CodeInvalidInput, errors.Join(errs...))
}
