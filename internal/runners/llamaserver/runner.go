// Package llamaserver runs GGUF models by spawning one llama.cpp server
// per loaded model and streaming completions from it.
package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/internal/runners/gen"
	"inferd/pkg/types"
)

// Name is the registry name of this runner.
const Name = "llama-server"

const (
	ParamCtxSize   = "ctx_size"
	ParamGPULayers = "n_gpu_layers"
	ParamThreads   = "threads"
)

// Descriptor is the static metadata of the llama-server runner.
func Descriptor() runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       runner.VendorLlamaCpp,
		Tier:         runner.TierNormal,
		Capabilities: []types.Capability{types.CapabilityLLM},
		Requirements: runner.Requirements{Binaries: []string{"llama-server"}},
		Description:  "llama.cpp server subprocess, one per loaded GGUF model",
	}
}

// Config tunes the runner. Zero values take defaults.
type Config struct {
	Binary       string
	Host         string
	APIKey       string
	DefaultModel string
	ExtraArgs    []string
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
	Log          zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "llama-server"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
	return c
}

// loadParams are the parameters that need a process restart.
type loadParams struct {
	CtxSize   int
	GPULayers int
	Threads   int
}

func loadParamsFrom(values map[string]any) loadParams {
	return loadParams{
		CtxSize:   params.Int(values, ParamCtxSize, 4096),
		GPULayers: params.Int(values, ParamGPULayers, 0),
		Threads:   params.Int(values, ParamThreads, 0),
	}
}

// Runner is the llama-server backend.
type Runner struct {
	cfg  Config
	log  zerolog.Logger
	http *http.Client

	mu        sync.Mutex
	proc      *process
	modelID   string
	modelPath string
	load      loadParams
}

// New returns an unloaded runner.
func New(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Runner{
		cfg: cfg,
		log: cfg.Log.With().Str("runner", Name).Logger(),
		// requests carry their own deadlines
		http: &http.Client{Transport: tr},
	}
}

// FromEnv builds the runner from the environment handed to constructors.
func FromEnv(env *runner.Env) (runner.Runner, error) {
	cfg := Config{
		Binary:       env.Binary("llama-server"),
		Host:         env.Option(Name, "host", ""),
		APIKey:       env.Option(Name, "api_key", ""),
		DefaultModel: env.Option(Name, "default_model", ""),
	}
	if extra := env.Option(Name, "extra_args", ""); extra != "" {
		cfg.ExtraArgs = strings.Fields(extra)
	}
	if env != nil {
		cfg.Log = env.Logger
	}
	return New(cfg), nil
}

func (r *Runner) Name() string                     { return Name }
func (r *Runner) Capabilities() []types.Capability { return Descriptor().Capabilities }

func (r *Runner) Descriptor() runner.Descriptor {
	d := Descriptor()
	d.DefaultModel = r.cfg.DefaultModel
	return d
}

func (r *Runner) ParameterSchemas() []params.Schema {
	return append([]params.Schema{
		{Name: runner.ParamModelID, DisplayName: "Model", Description: "GGUF file in the models directory.", Category: "model", Type: params.StringType{MinLength: 1, Pattern: `(?i)\.gguf$`}},
		{Name: ParamCtxSize, DisplayName: "Context size", Category: "model", Type: params.IntRange(128, 131072), Default: 4096},
		{Name: ParamGPULayers, DisplayName: "GPU layers", Category: "model", Type: params.IntRange(0, 999), Default: 0},
		{Name: ParamThreads, DisplayName: "Threads", Description: "0 lets the server decide.", Category: "model", Type: params.IntRange(0, 256), Default: 0},
	}, gen.Schemas()...)
}

// ValidateParameters adds the check that a request cannot ask for more
// tokens than the context holds.
func (r *Runner) ValidateParameters(values map[string]any) error {
	if err := params.ValidateAll(r.ParameterSchemas(), values); err != nil {
		return err
	}
	ctx := params.Int(values, ParamCtxSize, 4096)
	if n := params.Int(values, gen.ParamMaxTokens, 256); n > ctx {
		return fmt.Errorf("%s (%d) must not exceed %s (%d)", gen.ParamMaxTokens, n, ParamCtxSize, ctx)
	}
	return nil
}

func (r *Runner) client(baseURL string) client {
	return client{baseURL: baseURL, apiKey: r.cfg.APIKey, http: r.http, log: r.log}
}

func (r *Runner) Load(ctx context.Context, modelID string, opts runner.LoadOptions) error {
	if modelID == "" {
		return errors.New("no model selected")
	}
	if opts.ModelPath == "" || !fsutil.PathExists(opts.ModelPath) {
		return fmt.Errorf("model %s not found", modelID)
	}
	lp := loadParamsFrom(opts.Parameters)
	p, err := r.spawn(ctx, opts.ModelPath, lp)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.proc
	r.proc, r.modelID, r.modelPath, r.load = p, modelID, opts.ModelPath, lp
	r.mu.Unlock()
	old.stop(r.cfg.StopTimeout)
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	p := r.proc
	r.proc, r.modelID, r.modelPath = nil, "", ""
	r.mu.Unlock()
	p.stop(r.cfg.StopTimeout)
	if p != nil {
		r.log.Info().Int("pid", p.cmd.Process.Pid).Msg("spawn stop")
	}
	return nil
}

// IsLoaded reports whether a server process is running.
func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc != nil && r.proc.alive()
}

func (r *Runner) LoadedModelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil || !r.proc.alive() {
		return ""
	}
	return r.modelID
}

// ApplyParameters restarts the server when a load-time parameter changed.
// Sampling parameters travel with each request and need nothing here.
func (r *Runner) ApplyParameters(ctx context.Context, values map[string]any) error {
	lp := loadParamsFrom(values)
	r.mu.Lock()
	same := r.proc == nil || lp == r.load
	path := r.modelPath
	r.mu.Unlock()
	if same {
		return nil
	}
	r.log.Info().Int("ctx_size", lp.CtxSize).Int("n_gpu_layers", lp.GPULayers).Msg("restart for new parameters")
	p, err := r.spawn(ctx, path, lp)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.proc
	r.proc, r.load = p, lp
	r.mu.Unlock()
	old.stop(r.cfg.StopTimeout)
	return nil
}

func (r *Runner) baseURL() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return "", types.Errorf(types.CodeModelNotLoaded, "%s has no model loaded", Name)
	}
	if !r.proc.alive() {
		return "", types.Errorf(types.CodeModelNotLoaded, "llama-server exited: %s", r.proc.stderr.String())
	}
	return r.proc.baseURL, nil
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
	base, err := r.baseURL()
	if err != nil {
		return types.InferenceResult{}, err
	}
	var onToken func(string) error
	if emit != nil {
		onToken = func(frag string) error { return emit(types.TextChunk(frag)) }
	}
	text, finish, err := r.client(base).complete(ctx, prompt, gen.FromValues(req.Parameters), onToken)
	if err != nil {
		return types.InferenceResult{}, err
	}
	return gen.Result(text, finish), nil
}
