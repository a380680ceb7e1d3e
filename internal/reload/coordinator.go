package reload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Registry is the part of the runner registry a reload updates.
type Registry interface {
	Lookup(name string) (runner.Runner, bool)
	SetSelections(map[types.Capability]string)
}

// Lifecycle is the part of the lifecycle manager a reload drives.
type Lifecycle interface {
	Ensure(ctx context.Context, name, modelID string, params map[string]any) error
	Unload(ctx context.Context, name string) error
	ApplyParameters(ctx context.Context, name string, params map[string]any) error
}

// Result is the outcome of one settings change.
type Result struct {
	Changes []Change
	// Err is the first failure. Later changes are still applied.
	Err      error
	Duration time.Duration
}

// Success reports whether every change was applied.
func (r Result) Success() bool { return r.Err == nil }

// Response converts r to its API form.
func (r Result) Response() types.ReloadResponse {
	resp := types.ReloadResponse{Success: r.Success(), Changes: make([]string, 0, len(r.Changes))}
	for _, c := range r.Changes {
		resp.Changes = append(resp.Changes, c.String())
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// Observer is notified after every settings change.
type Observer interface {
	OnReload(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

func (f ObserverFunc) OnReload(r Result) { f(r) }

// Coordinator serializes settings changes and applies them.
type Coordinator struct {
	reg  Registry
	life Lifecycle
	log  zerolog.Logger

	mu        sync.Mutex // one reload at a time
	obsMu     sync.RWMutex
	observers []Observer
	last      *Result
}

// New returns a Coordinator.
func New(reg Registry, life Lifecycle, log zerolog.Logger) *Coordinator {
	return &Coordinator{reg: reg, life: life, log: log.With().Str("component", "reload").Logger()}
}

// Observe registers o for every later result.
func (c *Coordinator) Observe(o Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, o)
	c.obsMu.Unlock()
}

// Last returns the most recent result, if any.
func (c *Coordinator) Last() (Result, bool) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// HandleSettingsChange applies the difference between old and next. The
// registry selections always follow next; lifecycle work is only done for
// the changes Diff reports. Failures do not stop later changes and nothing
// is rolled back.
func (c *Coordinator) HandleSettingsChange(ctx context.Context, old, next types.EngineSettings) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	changes := Diff(old, next)
	c.reg.SetSelections(next.Clone().SelectedRunners)

	var errs []error
	for _, ch := range changes {
		var err error
		switch ch.Kind {
		case RunnerSwitched:
			err = c.switchRunner(ctx, ch, next)
		case ParametersChanged:
			err = c.applyParams(ctx, ch, next)
		}
		changesTotal.WithLabelValues(ch.Kind.String(), outcome(err)).Inc()
		if err != nil {
			c.log.Warn().Stringer("change", ch).Err(err).Msg("change failed")
			errs = append(errs, err)
			continue
		}
		c.log.Info().Stringer("change", ch).Msg("change applied")
	}

	res := Result{Changes: changes, Duration: time.Since(start)}
	if len(errs) > 0 {
		res.Err = errs[0]
	}
	reloadsTotal.WithLabelValues(outcome(res.Err)).Inc()
	if len(changes) > 0 {
		c.log.Info().Int("changes", len(changes)).Bool("success", res.Success()).Dur("dur", res.Duration).Msg("reload done")
	}
	c.notify(res)
	return res
}

func (c *Coordinator) notify(res Result) {
	c.obsMu.Lock()
	c.last = &res
	observers := append([]Observer(nil), c.observers...)
	c.obsMu.Unlock()
	for _, o := range observers {
		o.OnReload(res)
	}
}

func (c *Coordinator) switchRunner(ctx context.Context, ch Change, next types.EngineSettings) error {
	r, ok := c.reg.Lookup(ch.Runner)
	if !ok {
		return types.Errorf(types.CodeRunnerNotFound, "runner %s is not registered", ch.Runner)
	}
	if !runner.Supports(r, ch.Capability) {
		return types.Errorf(types.CodeCapabilityUnsupported, "runner %s does not support %s", ch.Runner, ch.Capability)
	}
	loadParams := params.Merge(params.Defaults(runner.Schemas(r)), next.Params(ch.Runner))
	if err := c.life.Ensure(ctx, ch.Runner, runner.ModelFor(r, loadParams), loadParams); err != nil {
		return err
	}
	if ch.Previous == "" || stillSelected(next, ch.Previous) {
		return nil
	}
	if err := c.life.Unload(ctx, ch.Previous); err != nil && !types.IsCode(err, types.CodeRunnerNotFound) {
		return err
	}
	return nil
}

func (c *Coordinator) applyParams(ctx context.Context, ch Change, next types.EngineSettings) error {
	r, ok := c.reg.Lookup(ch.Runner)
	if !ok {
		// parameters for runners absent on this host are kept but inert
		return nil
	}
	merged := params.Merge(params.Defaults(runner.Schemas(r)), next.Params(ch.Runner))
	if r.IsLoaded() {
		if model := runner.ModelFor(r, merged); model != r.LoadedModelID() {
			return c.life.Ensure(ctx, ch.Runner, model, merged)
		}
	}
	return c.life.ApplyParameters(ctx, ch.Runner, merged)
}

func stillSelected(s types.EngineSettings, name string) bool {
	for _, selected := range s.SelectedRunners {
		if selected == name {
			return true
		}
	}
	return false
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
