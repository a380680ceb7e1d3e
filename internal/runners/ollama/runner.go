// Package ollama serves LLM and VLM requests through a running Ollama
// server.
package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/internal/runners/gen"
	"inferd/pkg/types"
)

// Name is the registry name of this runner.
const Name = "ollama"

const (
	ParamNumCtx    = "num_ctx"
	ParamKeepAlive = "keep_alive"
)

// Descriptor is the static metadata of the Ollama runner.
func Descriptor() runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       runner.VendorOllama,
		Tier:         runner.TierNormal,
		Capabilities: []types.Capability{types.CapabilityLLM, types.CapabilityVLM},
		Description:  "Ollama server over its HTTP API",
	}
}

// Config tunes the runner.
type Config struct {
	// BaseURL of the Ollama server; empty uses OLLAMA_HOST or the default.
	BaseURL      string
	HTTPClient   *http.Client
	DefaultModel string
	// Pull missing models on load.
	Pull bool
	Log  zerolog.Logger
}

// Runner is the Ollama backend. Models live in the Ollama server; loading
// warms a model there and unloading evicts it.
type Runner struct {
	cfg    Config
	log    zerolog.Logger
	client *api.Client

	mu      sync.Mutex
	modelID string
	loaded  bool
}

// New returns a runner for the server at cfg.BaseURL.
func New(cfg Config) (*Runner, error) {
	r := &Runner{cfg: cfg, log: cfg.Log.With().Str("runner", Name).Logger()}
	if cfg.BaseURL == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		r.client = c
		return r, nil
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	r.client = api.NewClient(u, hc)
	return r, nil
}

// FromEnv builds the runner and checks that the server answers.
func FromEnv(env *runner.Env) (runner.Runner, error) {
	cfg := Config{
		BaseURL:      env.Option(Name, "url", ""),
		DefaultModel: env.Option(Name, "default_model", ""),
		Pull:         env.Option(Name, "pull", "") == "true",
	}
	if env != nil {
		cfg.Log = env.Logger
	}
	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("ollama server not reachable: %w", err)
	}
	return r, nil
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
		{Name: runner.ParamModelID, DisplayName: "Model", Description: "Ollama model tag, e.g. llama3.2:3b.", Category: "model", Type: params.StringType{MinLength: 1, MaxLength: 200}},
		{Name: ParamNumCtx, DisplayName: "Context size", Category: "model", Type: params.IntRange(256, 131072), Default: 4096},
		{Name: ParamKeepAlive, DisplayName: "Keep alive", Description: "How long Ollama keeps the model loaded, e.g. 5m. -1 keeps it forever.", Category: "model", Type: params.StringType{Pattern: `^(-1|\d+(ms|s|m|h))$`}, Default: "5m"},
	}, gen.Schemas()...)
}

func (r *Runner) ValidateParameters(values map[string]any) error {
	if err := params.ValidateAll(r.ParameterSchemas(), values); err != nil {
		return err
	}
	if n, c := params.Int(values, gen.ParamMaxTokens, 256), params.Int(values, ParamNumCtx, 4096); n > c {
		return fmt.Errorf("%s (%d) must not exceed %s (%d)", gen.ParamMaxTokens, n, ParamNumCtx, c)
	}
	return nil
}

func keepAlive(values map[string]any) *api.Duration {
	s := params.String(values, ParamKeepAlive, "5m")
	if s == "-1" {
		return &api.Duration{Duration: -1}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil
	}
	return &api.Duration{Duration: d}
}

func isNotFound(err error) bool {
	var se api.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Load makes sure the model exists, pulling it when configured, and warms it.
func (r *Runner) Load(ctx context.Context, modelID string, opts runner.LoadOptions) error {
	if modelID == "" {
		return errors.New("no model selected")
	}
	if _, err := r.client.Show(ctx, &api.ShowRequest{Model: modelID}); err != nil {
		if !isNotFound(err) || !r.cfg.Pull {
			return fmt.Errorf("ollama model %s: %w", modelID, err)
		}
		r.log.Info().Str("model", modelID).Msg("pull start")
		err := r.client.Pull(ctx, &api.PullRequest{Model: modelID}, func(p api.ProgressResponse) error {
			r.log.Debug().Str("model", modelID).Str("status", p.Status).Int64("completed", p.Completed).Int64("total", p.Total).Msg("pull progress")
			return nil
		})
		if err != nil {
			return fmt.Errorf("pull %s: %w", modelID, err)
		}
	}
	// an empty prompt only loads the model
	err := r.client.Generate(ctx, &api.GenerateRequest{
		Model:     modelID,
		KeepAlive: keepAlive(opts.Parameters),
		Options:   map[string]any{"num_ctx": params.Int(opts.Parameters, ParamNumCtx, 4096)},
	}, func(api.GenerateResponse) error { return nil })
	if err != nil {
		return fmt.Errorf("warm %s: %w", modelID, err)
	}
	r.mu.Lock()
	r.modelID, r.loaded = modelID, true
	r.mu.Unlock()
	return nil
}

// Unload asks the server to evict the model.
func (r *Runner) Unload(ctx context.Context) error {
	r.mu.Lock()
	model := r.modelID
	r.modelID, r.loaded = "", false
	r.mu.Unlock()
	if model == "" {
		return nil
	}
	err := r.client.Generate(ctx, &api.GenerateRequest{Model: model, KeepAlive: &api.Duration{Duration: 0}}, func(api.GenerateResponse) error { return nil })
	if err != nil {
		r.log.Warn().Str("model", model).Err(err).Msg("evict failed")
	}
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *Runner) LoadedModelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelID
}

// ApplyParameters accepts new values in place; every parameter is sent
// with each request.
func (r *Runner) ApplyParameters(context.Context, map[string]any) error { return nil }

func options(values map[string]any) map[string]any {
	p := gen.FromValues(values)
	opts := map[string]any{
		"temperature":    p.Temperature,
		"top_p":          p.TopP,
		"top_k":          p.TopK,
		"num_predict":    p.MaxTokens,
		"repeat_penalty": p.RepeatPenalty,
		"num_ctx":        params.Int(values, ParamNumCtx, 4096),
	}
	if p.Seed != 0 {
		opts["seed"] = p.Seed
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	return opts
}

// messages builds the chat of one request. VLM requests carry the image
// as base64 in the "image" input.
func messages(c types.Capability, req types.InferenceRequest) ([]api.Message, error) {
	text, ok := req.InputString("text")
	if !ok || strings.TrimSpace(text) == "" {
		return nil, types.Errorf(types.CodeInvalidInput, "input text is required")
	}
	var msgs []api.Message
	if sys, ok := req.InputString("system"); ok && sys != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	user := api.Message{Role: "user", Content: text}
	if c == types.CapabilityVLM {
		img, err := imageInput(req)
		if err != nil {
			return nil, err
		}
		user.Images = []api.ImageData{img}
	}
	return append(msgs, user), nil
}

func imageInput(req types.InferenceRequest) (api.ImageData, error) {
	v, ok := req.Input("image")
	if !ok {
		return nil, types.Errorf(types.CodeInvalidInput, "input image is required")
	}
	switch img := v.(type) {
	case []byte:
		return img, nil
	case string:
		if i := strings.Index(img, ";base64,"); i >= 0 && strings.HasPrefix(img, "data:") {
			img = img[i+len(";base64,"):]
		}
		b, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return nil, types.Errorf(types.CodeInvalidInput, "image is not valid base64: %v", err)
		}
		return b, nil
	}
	return nil, types.Errorf(types.CodeInvalidInput, "image must be base64 text, got %T", v)
}

func (r *Runner) Run(ctx context.Context, c types.Capability, req types.InferenceRequest) (types.InferenceResult, error) {
	return r.chat(ctx, c, req, nil)
}

func (r *Runner) RunStream(ctx context.Context, c types.Capability, req types.InferenceRequest, emit runner.Emit) (types.InferenceResult, error) {
	return r.chat(ctx, c, req, emit)
}

func (r *Runner) chat(ctx context.Context, c types.Capability, req types.InferenceRequest, emit runner.Emit) (types.InferenceResult, error) {
	if !slices.Contains(r.Capabilities(), c) {
		return types.InferenceResult{}, types.Errorf(types.CodeCapabilityUnsupported, "%s does not serve %s", Name, c)
	}
	model := r.LoadedModelID()
	if model == "" {
		return types.InferenceResult{}, types.Errorf(types.CodeModelNotLoaded, "%s has no model loaded", Name)
	}
	msgs, err := messages(c, req)
	if err != nil {
		return types.InferenceResult{}, err
	}
	stream := emit != nil
	var text strings.Builder
	var last api.ChatResponse
	err = r.client.Chat(ctx, &api.ChatRequest{
		Model:     model,
		Messages:  msgs,
		Stream:    &stream,
		KeepAlive: keepAlive(req.Parameters),
		Options:   options(req.Parameters),
	}, func(resp api.ChatResponse) error {
		last = resp
		if frag := resp.Message.Content; frag != "" {
			text.WriteString(frag)
			if emit != nil {
				return emit(types.TextChunk(frag))
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.InferenceResult{}, ctx.Err()
		}
		return types.InferenceResult{}, err
	}
	res := gen.Result(text.String(), last.DoneReason)
	res.Metadata["prompt_tokens"] = last.PromptEvalCount
	res.Metadata["completion_tokens"] = last.EvalCount
	return res, nil
}
