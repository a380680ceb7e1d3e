package lifecycle

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inferd/internal/runner"
	"inferd/pkg/types"
)

var tracer = otel.Tracer("inferd/lifecycle")

// Controller owns one runner instance and is the only caller of its Load
// and Unload.
type Controller struct {
	r   runner.Runner
	cfg Config
	log zerolog.Logger

	// loadSem admits one load or unload at a time.
	loadSem chan struct{}
	// exec is held shared by executions and exclusively by transitions.
	exec sync.RWMutex

	// admission: queue bounds waiting requests, slots bounds execution.
	queue chan struct{}
	slots chan struct{}

	mu       sync.Mutex
	state    State
	modelID  string
	params   map[string]any
	estMB    int
	lastUsed time.Time
	lastErr  string
}

func newController(r runner.Runner, cfg Config) *Controller {
	c := &Controller{
		r:       r,
		cfg:     cfg,
		log:     cfg.Log.With().Str("runner", r.Name()).Logger(),
		loadSem: make(chan struct{}, 1),
		queue:   make(chan struct{}, cfg.MaxQueueDepth),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		state:   StateUnloaded,
	}
	if r.IsLoaded() {
		c.state, c.modelID = StateLoaded, r.LoadedModelID()
	}
	runnerState.WithLabelValues(r.Name()).Set(c.state.gauge())
	return c
}

// Runner returns the controlled runner.
func (c *Controller) Runner() runner.Runner { return c.r }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLoaded reports the runner's own view, which stays true after failures.
func (c *Controller) IsLoaded() bool { return c.r.IsLoaded() }

// LoadedModelID reports the runner's loaded model, or "".
func (c *Controller) LoadedModelID() string {
	if !c.r.IsLoaded() {
		return ""
	}
	return c.r.LoadedModelID()
}

// Params returns a copy of the parameters the runner was loaded or
// configured with.
func (c *Controller) Params() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.params)
}

// LastError returns the message of the last failed transition.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	runnerState.WithLabelValues(c.r.Name()).Set(s.gauge())
}

func (c *Controller) publish(name, model string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	c.cfg.Publisher.Publish(Event{Name: name, Runner: c.r.Name(), ModelID: model, Fields: fields})
}

func (c *Controller) lockTransition(ctx context.Context) error {
	select {
	case c.loadSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlockTransition() { <-c.loadSem }

// rlock takes the shared side of exec, giving up when ctx is done. An
// abandoned wait releases the lock as soon as it is granted.
func (c *Controller) rlock(ctx context.Context) error {
	if c.exec.TryRLock() {
		return nil
	}
	granted := make(chan struct{})
	go func() {
		c.exec.RLock()
		close(granted)
	}()
	select {
	case <-granted:
		return nil
	case <-ctx.Done():
		go func() {
			<-granted
			c.exec.RUnlock()
		}()
		return ctx.Err()
	}
}

// loaded reports whether modelID is loaded. Callers hold loadSem or exec.
func (c *Controller) loaded(modelID string) bool {
	return c.r.IsLoaded() && c.r.LoadedModelID() == modelID
}

// Load makes modelID the loaded model. Loading the model that is already
// loaded is a no-op; a different model is unloaded first. A failed load
// leaves the runner unloaded.
func (c *Controller) Load(ctx context.Context, modelID string, params map[string]any) error {
	if err := c.lockTransition(ctx); err != nil {
		return err
	}
	defer c.unlockTransition()
	if c.loaded(modelID) {
		c.touch()
		return nil
	}
	c.exec.Lock()
	defer c.exec.Unlock()
	return c.loadLocked(ctx, modelID, params)
}

func (c *Controller) loadLocked(ctx context.Context, modelID string, params map[string]any) error {
	if c.loaded(modelID) {
		return nil
	}
	if c.r.IsLoaded() {
		if err := c.unloadLocked(ctx, "switch"); err != nil {
			return err
		}
	}

	ctx, span := tracer.Start(ctx, "lifecycle.load", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("runner", c.r.Name()), attribute.String("model", modelID))
	defer span.End()

	start := time.Now()
	c.setState(StateLoading)
	c.publish("load_start", modelID, nil)
	c.log.Info().Str("model", modelID).Msg("load start")

	opts := runner.LoadOptions{ModelPath: c.cfg.Models.Resolve(modelID), Parameters: maps.Clone(params)}
	err := retry.Do(
		func() error { return c.r.Load(ctx, modelID, opts) },
		retry.Attempts(uint(c.cfg.LoadAttempts)),
		retry.Delay(c.cfg.LoadRetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !types.IsCancellation(err) && ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn().Str("model", modelID).Uint("attempt", n+1).Err(err).Msg("load retry")
		}),
	)
	dur := time.Since(start)
	loadDuration.WithLabelValues(c.r.Name()).Observe(dur.Seconds())
	if err != nil {
		if c.r.IsLoaded() {
			_ = c.r.Unload(context.WithoutCancel(ctx))
		}
		c.mu.Lock()
		c.state, c.modelID, c.lastErr = StateUnloaded, "", err.Error()
		c.mu.Unlock()
		runnerState.WithLabelValues(c.r.Name()).Set(StateUnloaded.gauge())
		loadsTotal.WithLabelValues(c.r.Name(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.publish("load_failed", modelID, map[string]any{"error": err.Error()})
		c.log.Error().Str("model", modelID).Err(err).Dur("dur", dur).Msg("load failed")
		if types.IsCancellation(err) {
			return err
		}
		return types.Wrap(types.CodeModelLoadFailed, err)
	}

	c.mu.Lock()
	c.state, c.modelID, c.lastErr = StateLoaded, modelID, ""
	c.params = maps.Clone(params)
	c.estMB = c.cfg.Models.EstimateMB(modelID)
	c.lastUsed = time.Now()
	c.mu.Unlock()
	runnerState.WithLabelValues(c.r.Name()).Set(StateLoaded.gauge())
	loadsTotal.WithLabelValues(c.r.Name(), "ok").Inc()
	c.publish("load_ready", modelID, map[string]any{"dur_ms": dur.Milliseconds()})
	c.log.Info().Str("model", modelID).Dur("dur", dur).Msg("load ready")
	return nil
}

// Unload releases the loaded model after in-flight requests finish.
func (c *Controller) Unload(ctx context.Context) error {
	if err := c.lockTransition(ctx); err != nil {
		return err
	}
	defer c.unlockTransition()
	c.exec.Lock()
	defer c.exec.Unlock()
	if !c.r.IsLoaded() {
		c.setState(StateUnloaded)
		return nil
	}
	return c.unloadLocked(ctx, "unload")
}

func (c *Controller) unloadLocked(ctx context.Context, reason string) error {
	model := c.r.LoadedModelID()
	c.setState(StateUnloading)
	c.publish("unload_start", model, map[string]any{"reason": reason})
	err := c.r.Unload(ctx)
	c.mu.Lock()
	c.modelID, c.estMB = "", 0
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	if err != nil && c.r.IsLoaded() {
		c.setState(StateLoaded)
		c.log.Error().Str("model", model).Err(err).Msg("unload failed")
		return types.Wrap(types.CodeRuntime, err)
	}
	c.setState(StateUnloaded)
	c.publish("unload_done", model, map[string]any{"reason": reason})
	c.log.Info().Str("model", model).Str("reason", reason).Msg("unloaded")
	return nil
}

// ApplyParameters hands new parameters to the runner. Appliers get them
// in place; other loaded runners are reloaded with the same model. An
// unloaded runner just records them for its next load.
func (c *Controller) ApplyParameters(ctx context.Context, params map[string]any) error {
	if err := c.lockTransition(ctx); err != nil {
		return err
	}
	defer c.unlockTransition()
	c.exec.Lock()
	defer c.exec.Unlock()

	if !c.r.IsLoaded() {
		c.mu.Lock()
		c.params = maps.Clone(params)
		c.mu.Unlock()
		return nil
	}
	if ap, ok := c.r.(runner.ParameterApplier); ok {
		if err := ap.ApplyParameters(ctx, maps.Clone(params)); err != nil {
			c.mu.Lock()
			c.lastErr = err.Error()
			c.mu.Unlock()
			return types.Wrap(types.CodeRuntime, err)
		}
		c.mu.Lock()
		c.params = maps.Clone(params)
		c.mu.Unlock()
		c.publish("params_applied", c.r.LoadedModelID(), nil)
		return nil
	}
	model := c.r.LoadedModelID()
	if err := c.unloadLocked(ctx, "reconfigure"); err != nil {
		return err
	}
	return c.loadLocked(ctx, model, params)
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// busy reports whether requests are queued or executing.
func (c *Controller) busy() bool { return len(c.queue) > 0 || len(c.slots) > 0 }

func (c *Controller) usageMB() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoaded && c.state != StateLoading {
		return 0
	}
	return c.estMB
}
