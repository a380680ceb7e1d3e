// Package guard is a content-safety classifier backed by a word list. It
// needs no model file and loads instantly.
package guard

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Name is the registry name of this runner.
const Name = "lexicon-guard"

// BuiltinModel is the only model the runner knows.
const BuiltinModel = "builtin"

const (
	ParamCategories  = "categories"
	ParamCustomTerms = "custom_terms"
	ParamMode        = "mode"
)

const (
	ModeFlag   = "flag"
	ModeRedact = "redact"
)

// Descriptor is the static metadata of the guard.
func Descriptor() runner.Descriptor {
	return runner.Descriptor{
		Name:         Name,
		Vendor:       runner.VendorUnknown,
		Tier:         runner.TierLow,
		Capabilities: []types.Capability{types.CapabilityGuardian},
		DefaultModel: BuiltinModel,
		Description:  "word-list content safety classifier",
	}
}

// Runner classifies text against the enabled categories and custom terms.
type Runner struct {
	log zerolog.Logger

	mu     sync.RWMutex
	loaded bool
	lx     *lexicon
	lxKey  string
	mode   string
}

// New returns an unloaded guard.
func New(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("runner", Name).Logger()}
}

// FromEnv builds the guard; it has no host requirements.
func FromEnv(env *runner.Env) (runner.Runner, error) {
	if env == nil {
		return New(zerolog.Nop()), nil
	}
	return New(env.Logger), nil
}

func (r *Runner) Name() string                     { return Name }
func (r *Runner) Capabilities() []types.Capability { return Descriptor().Capabilities }
func (r *Runner) Descriptor() runner.Descriptor    { return Descriptor() }

func (r *Runner) ParameterSchemas() []params.Schema {
	return []params.Schema{
		{Name: runner.ParamModelID, DisplayName: "Model", Category: "model", Type: params.SelectionType{Options: params.Options(BuiltinModel)}, Default: BuiltinModel},
		{Name: ParamCategories, DisplayName: "Categories", Description: "Built-in categories to check.", Category: "policy", Type: params.MultiSelectionType{Options: params.Options(Categories()...)}, Default: Categories()},
		{Name: ParamCustomTerms, DisplayName: "Custom terms", Description: "One word or phrase per line.", Category: "policy", Type: params.StringType{Multiline: true, MaxLength: 16384}, Sensitive: true},
		{Name: ParamMode, DisplayName: "Mode", Category: "policy", Type: params.SelectionType{Options: params.Options(ModeFlag, ModeRedact)}, Default: ModeFlag},
	}
}

func (r *Runner) ValidateParameters(values map[string]any) error {
	return params.ValidateAll(r.ParameterSchemas(), values)
}

func customTerms(values map[string]any) []string {
	var out []string
	for _, l := range strings.Split(params.String(values, ParamCustomTerms, ""), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func lexiconKey(values map[string]any) string {
	return strings.Join(params.Strings(values, ParamCategories, Categories()), ",") + "\x00" + strings.Join(customTerms(values), "\n")
}

func (r *Runner) configure(values map[string]any) {
	lx := newLexicon(params.Strings(values, ParamCategories, Categories()), customTerms(values))
	mode := params.String(values, ParamMode, ModeFlag)
	r.mu.Lock()
	r.lx, r.lxKey, r.mode = lx, lexiconKey(values), mode
	r.mu.Unlock()
}

// policy returns the word list and mode for one request. Request
// parameters win over the loaded configuration.
func (r *Runner) policy(values map[string]any) (*lexicon, string, bool) {
	r.mu.RLock()
	lx, key, mode, loaded := r.lx, r.lxKey, r.mode, r.loaded
	r.mu.RUnlock()
	if !loaded || len(values) == 0 {
		return lx, mode, loaded
	}
	if k := lexiconKey(values); k != key {
		lx = newLexicon(params.Strings(values, ParamCategories, Categories()), customTerms(values))
	}
	return lx, params.String(values, ParamMode, mode), true
}

func (r *Runner) Load(_ context.Context, modelID string, opts runner.LoadOptions) error {
	if modelID != BuiltinModel {
		return types.Errorf(types.CodeInvalidInput, "%s has no model %q", Name, modelID)
	}
	r.configure(opts.Parameters)
	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *Runner) Unload(context.Context) error {
	r.mu.Lock()
	r.loaded, r.lx = false, nil
	r.mu.Unlock()
	return nil
}

func (r *Runner) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Runner) LoadedModelID() string {
	if r.IsLoaded() {
		return BuiltinModel
	}
	return ""
}

// ApplyParameters swaps the word list in place.
func (r *Runner) ApplyParameters(_ context.Context, values map[string]any) error {
	r.configure(values)
	return nil
}

// Run checks inputs["text"] and reports the categories it hits.
func (r *Runner) Run(_ context.Context, c types.Capability, req types.InferenceRequest) (types.InferenceResult, error) {
	if !slices.Contains(r.Capabilities(), c) {
		return types.InferenceResult{}, types.Errorf(types.CodeCapabilityUnsupported, "%s does not serve %s", Name, c)
	}
	text, ok := req.InputString("text")
	if !ok {
		return types.InferenceResult{}, types.Errorf(types.CodeInvalidInput, "input text is required")
	}
	lx, mode, loaded := r.policy(req.Parameters)
	if !loaded {
		return types.InferenceResult{}, types.Errorf(types.CodeModelNotLoaded, "%s is not loaded", Name)
	}
	matches := lx.scan(text)
	cats := make([]string, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(cats, m.Category) {
			cats = append(cats, m.Category)
		}
	}
	out := map[string]any{
		"safe":       len(matches) == 0,
		"categories": cats,
		"matches":    matches,
	}
	if mode == ModeRedact {
		out["text"] = redact(text, matches)
	}
	if len(matches) > 0 {
		r.log.Debug().Str("request_id", req.ID).Strs("categories", cats).Msg("guard flagged")
	}
	return types.Final(out, map[string]any{"mode": mode}), nil
}
