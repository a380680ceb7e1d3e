// Package runner defines the contract every inference backend implements.
package runner

import (
	"context"
	"maps"

	"github.com/rs/zerolog"

	"inferd/internal/params"
	"inferd/pkg/types"
)

// ParamModelID is the parameter that names the model to load. It may be
// set per request or in the runner's settings.
const ParamModelID = "model_id"

// Runner is a stateful backend serving one or more capabilities.
// Load and Unload are only called by the lifecycle manager.
type Runner interface {
	Name() string
	Capabilities() []types.Capability
	Load(ctx context.Context, modelID string, opts LoadOptions) error
	Run(ctx context.Context, cap types.Capability, req types.InferenceRequest) (types.InferenceResult, error)
	Unload(ctx context.Context) error
	IsLoaded() bool
	LoadedModelID() string
}

// Described runners carry static metadata used for selection.
type Described interface {
	Descriptor() Descriptor
}

// Emit delivers one partial result. A non-nil error means the consumer is
// gone and the runner should stop.
type Emit func(types.InferenceResult) error

// Streamer runners can produce partial results. RunStream returns the
// terminal result; it must check ctx between emitted chunks.
type Streamer interface {
	RunStream(ctx context.Context, cap types.Capability, req types.InferenceRequest, emit Emit) (types.InferenceResult, error)
}

// Configurable runners declare their parameters and may add cross-field checks.
type Configurable interface {
	ParameterSchemas() []params.Schema
	ValidateParameters(values map[string]any) error
}

// ParameterApplier runners can take new parameters without a reload.
type ParameterApplier interface {
	ApplyParameters(ctx context.Context, values map[string]any) error
}

// LoadOptions is what a runner receives when asked to load a model.
type LoadOptions struct {
	// ModelPath is the resolved on-disk path, empty for server-side models.
	ModelPath  string
	Parameters map[string]any
}

// Env is the runtime-environment handle given to runner constructors.
type Env struct {
	Logger    zerolog.Logger
	ModelsDir string
	// Binaries maps a binary name to an explicit path override.
	Binaries map[string]string
	// Options carries backend-specific settings keyed by runner name.
	Options map[string]map[string]any
}

// Option returns a backend option for runner, or def.
func (e *Env) Option(runner, key, def string) string {
	if e == nil {
		return def
	}
	if s, ok := e.Options[runner][key].(string); ok && s != "" {
		return s
	}
	return def
}

// Binary returns the configured path for name, or name itself.
func (e *Env) Binary(name string) string {
	if e != nil {
		if p := e.Binaries[name]; p != "" {
			return p
		}
	}
	return name
}

// Schemas returns the parameter schemas of r, or nil.
func Schemas(r Runner) []params.Schema {
	if c, ok := r.(Configurable); ok {
		return c.ParameterSchemas()
	}
	return nil
}

// Supports reports whether r declares cap.
func Supports(r Runner, cap types.Capability) bool {
	for _, c := range r.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// CanStream reports whether r implements Streamer.
func CanStream(r Runner) bool {
	_, ok := r.(Streamer)
	return ok
}

// ValidateParameters checks values against r's schemas and then r's own
// cross-field rules; both must pass. The model id is checked only when r
// declares it. Runners that are not Configurable accept any values.
func ValidateParameters(r Runner, values map[string]any) error {
	c, ok := r.(Configurable)
	if !ok {
		return nil
	}
	schemas := c.ParameterSchemas()
	if _, declared := params.Find(schemas, ParamModelID); !declared {
		if _, set := values[ParamModelID]; set {
			values = maps.Clone(values)
			delete(values, ParamModelID)
		}
	}
	if err := params.ValidateAll(schemas, values); err != nil {
		return err
	}
	return c.ValidateParameters(values)
}

// ModelFor returns the model r loads for values: the model_id parameter
// when set, else the descriptor's default model.
func ModelFor(r Runner, values map[string]any) string {
	if id := params.String(values, ParamModelID, ""); id != "" {
		return id
	}
	if d, ok := r.(Described); ok {
		return d.Descriptor().DefaultModel
	}
	return ""
}
