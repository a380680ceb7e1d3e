// Package llamacpp runs GGUF models in process through go-llama.cpp. The
// binding needs cgo and is compiled only with the llama build tag.
package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/internal/runners/gen"
	"inferd/pkg/types"
)

// Name is the registry name of this runner.
const Name = "llamacpp"

const (
	ParamCtxSize   = "ctx_size"
	ParamGPULayers = "n_gpu_layers"
	ParamThreads   = "threads"
)

// Descriptor is the static metadata of the in-process llama.cpp runner.
func Descriptor() runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       runner.VendorLlamaCpp,
		Tier:         runner.TierHigh,
		Capabilities: []types.Capability{types.CapabilityLLM},
		Requirements: runner.Requirements{Features: []string{"llama"}},
		Description:  "llama.cpp linked into the daemon",
	}
}

type loadParams struct {
	CtxSize   int
	GPULayers int
	Threads   int
}

func loadParamsFrom(values map[string]any) loadParams {
	lp := loadParams{
		CtxSize:   params.Int(values, ParamCtxSize, 2048),
		GPULayers: params.Int(values, ParamGPULayers, 0),
		Threads:   params.Int(values, ParamThreads, 0),
	}
	if lp.Threads <= 0 {
		lp.Threads = runtime.NumCPU()
	}
	return lp
}

// model is a loaded GGUF model. It is not safe for concurrent use.
type model interface {
	predict(ctx context.Context, prompt string, p gen.Params, threads int, onToken func(string) error) (string, error)
	free()
}

// openModel loads path; replaced per build.
var openModel func(path string, lp loadParams) (model, error) = openNative

// Runner is the in-process llama.cpp backend.
type Runner struct {
	defaultModel string
	log          zerolog.Logger

	mu      sync.Mutex // guards m and serializes predictions
	m       model
	modelID string
	load    loadParams
}

// FromEnv builds the runner.
func FromEnv(env *runner.Env) (runner.Runner, error) {
	r := &Runner{defaultModel: env.Option(Name, "default_model", "")}
	if env != nil {
		r.log = env.Logger.With().Str("runner", Name).Logger()
	}
	return r, nil
}

func (r *Runner) Name() string                     { return Name }
func (r *Runner) Capabilities() []types.Capability { return Descriptor().Capabilities }

func (r *Runner) Descriptor() runner.Descriptor {
	d := Descriptor()
	d.DefaultModel = r.defaultModel
	return d
}

func (r *Runner) ParameterSchemas() []params.Schema {
	return append([]params.Schema{
		{Name: runner.ParamModelID, DisplayName: "Model", Category: "model", Type: params.StringType{MinLength: 1, Pattern: `(?i)\.gguf$`}},
		{Name: ParamCtxSize, DisplayName: "Context size", Category: "model", Type: params.IntRange(128, 131072), Default: 2048},
		{Name: ParamGPULayers, DisplayName: "GPU layers", Category: "model", Type: params.IntRange(0, 999), Default: 0},
		{Name: ParamThreads, DisplayName: "Threads", Description: "0 uses every CPU.", Category: "model", Type: params.IntRange(0, 256), Default: 0},
	}, gen.Schemas()...)
}

func (r *Runner) ValidateParameters(values map[string]any) error {
	if err := params.ValidateAll(r.ParameterSchemas(), values); err != nil {
		return err
	}
	ctx := params.Int(values, ParamCtxSize, 2048)
	if n := params.Int(values, gen.ParamMaxTokens, 256); n > ctx {
		return fmt.Errorf("%s (%d) must not exceed %s (%d)", gen.ParamMaxTokens, n, ParamCtxSize, ctx)
	}
	return nil
}

func (r *Runner) Load(_ context.Context, modelID string, opts runner.LoadOptions) error {
	if opts.ModelPath == "" {
		return fmt.Errorf("model %q not found", modelID)
	}
	lp := loadParamsFrom(opts.Parameters)
	m, err := openModel(opts.ModelPath, lp)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.m
	r.m, r.modelID, r.load = m, modelID, lp
	r.mu.Unlock()
	if old != nil {
		old.free()
	}
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m != nil {
		r.m.free()
	}
	r.m, r.modelID = nil, ""
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m != nil
}

func (r *Runner) LoadedModelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelID
}

func (r *Runner) Run(ctx context.Context, c types.Capability, req types.InferenceRequest) (types.InferenceResult, error) {
	return r.RunStream(ctx, c, req, nil)
}

func (r *Runner) RunStream(ctx context.Context, c types.Capability, req types.InferenceRequest, emit runner.Emit) (types.InferenceResult, error) {
	if !slices.Contains(r.Capabilities(), c) {
		return types.InferenceResult{}, types.Errorf(types.CodeCapabilityUnsupported, "%s does not serve %s", Name, c)
	}
	prompt, err := gen.Prompt(req)
	if err != nil {
		return types.InferenceResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		return types.InferenceResult{}, types.Errorf(types.CodeModelNotLoaded, "%s has no model loaded", Name)
	}
	var onToken func(string) error
	if emit != nil {
		onToken = func(tok string) error { return emit(types.TextChunk(tok)) }
	}
	text, err := r.m.predict(ctx, prompt, gen.FromValues(req.Parameters), r.load.Threads, onToken)
	if err != nil {
		return types.InferenceResult{}, err
	}
	return gen.Result(text, "stop"), nil
}

var errNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")
