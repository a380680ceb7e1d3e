// Package dispatch routes inference requests to runners and delivers their
// results.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"inferd/internal/cancel"
	"inferd/internal/lifecycle"
	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

var tracer = otel.Tracer("inferd/dispatch")

const (
	defaultWorkers      = 4
	defaultStreamBuffer = 16
)

// Selector finds runners.
type Selector interface {
	Lookup(name string) (runner.Runner, bool)
	GetRunner(c types.Capability) (runner.Runner, bool)
}

// Leaser makes a runner's model available for one request.
type Leaser interface {
	Acquire(ctx context.Context, name, modelID string, params map[string]any) (*lifecycle.Lease, error)
}

// SettingsSource returns the current settings snapshot.
type SettingsSource interface {
	Current() types.EngineSettings
}

// Config wires an Engine.
type Config struct {
	Registry  Selector
	Lifecycle Leaser
	Tracker   *cancel.Tracker
	Settings  SettingsSource
	// Workers bounds concurrently executing requests.
	Workers int
	// StreamBuffer is the capacity of each result channel.
	StreamBuffer int
	Log          zerolog.Logger
}

// Engine dispatches requests. Construct with New and stop with Close.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	pool *pool.Pool

	mu     sync.RWMutex // held shared while launching, exclusively by Close
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New returns an Engine with cfg defaults applied.
func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = defaultStreamBuffer
	}
	if cfg.Tracker == nil {
		cfg.Tracker = cancel.New(cfg.Log)
	}
	return &Engine{
		cfg:  cfg,
		log:  cfg.Log.With().Str("component", "dispatch").Logger(),
		pool: pool.New().WithMaxGoroutines(cfg.Workers),
	}
}

// job is a validated request bound to a runner.
type job struct {
	id         string
	cap        types.Capability
	req        types.InferenceRequest
	r          runner.Runner
	modelID    string
	loadParams map[string]any
	streaming  bool
}

// Process executes req and returns its terminal result. Execution errors
// come back as InferenceResult.Error. A cancelled request returns a result
// with Cancelled set and no error.
func (e *Engine) Process(ctx context.Context, req types.InferenceRequest, c types.Capability, preferred string) types.InferenceResult {
	s := e.launch(ctx, req, c, preferred, false)
	final := types.InferenceResult{Cancelled: true}
	for r := range s.C {
		if r.IsComplete() {
			final = r
		}
	}
	return final
}

// ProcessStream starts req and returns its result stream. Each call is a
// fresh execution.
func (e *Engine) ProcessStream(ctx context.Context, req types.InferenceRequest, c types.Capability, preferred string) *Stream {
	return e.launch(ctx, req, c, preferred, true)
}

// Start is ProcessStream with streaming optional. Without streaming the
// stream carries only the terminal result.
func (e *Engine) Start(ctx context.Context, req types.InferenceRequest, c types.Capability, preferred string, streaming bool) *Stream {
	return e.launch(ctx, req, c, preferred, streaming)
}

// Cancel signals the request with the given id. It reports whether the
// request was active.
func (e *Engine) Cancel(requestID string) bool { return e.cfg.Tracker.Cancel(requestID) }

// ActiveCount returns the number of requests currently tracked.
func (e *Engine) ActiveCount() int { return e.cfg.Tracker.ActiveCount() }

// Close rejects new requests, cancels active ones and waits for workers.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cfg.Tracker.Cleanup()
	// wait out launches that passed the closed check
	e.mu.Lock()
	e.mu.Unlock() //nolint:staticcheck
	e.cfg.Tracker.Cleanup()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) launch(parent context.Context, req types.InferenceRequest, c types.Capability, preferred string, streaming bool) *Stream {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, stop := context.WithCancel(parent)
	ch := make(chan types.InferenceResult, e.cfg.StreamBuffer)
	s := &Stream{RequestID: req.ID, C: ch, cancel: stop}

	fail := func(j *job, err *types.EngineError) *Stream {
		runnerName := ""
		if j != nil {
			runnerName = j.r.Name()
		}
		requestsTotal.WithLabelValues(c.String(), runnerName, "error", string(err.Code)).Inc()
		e.log.Debug().Str("request_id", req.ID).Str("capability", c.String()).Str("code", string(err.Code)).Str("error", err.Message).Msg("rejected")
		ch <- types.ErrorResult(err)
		close(ch)
		stop()
		return s
	}

	j, err := e.prepare(req, c, preferred, streaming)
	if err != nil {
		return fail(j, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return fail(j, types.Errorf(types.CodeRuntime, "engine is shutting down"))
	}
	if err := e.cfg.Tracker.Register(j.id, cancel.Func(stop)); err != nil {
		return fail(j, types.Errorf(types.CodeInvalidInput, "%v", err))
	}
	activeRequests.Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pool.Go(func() { e.execute(ctx, stop, j, ch) })
	}()
	return s
}

// prepare validates req and selects a runner. The returned job is non-nil
// once a runner is chosen, even when a later check fails.
func (e *Engine) prepare(req types.InferenceRequest, c types.Capability, preferred string, streaming bool) (*job, *types.EngineError) {
	if !c.Valid() {
		return nil, types.Errorf(types.CodeCapabilityUnsupported, "unknown capability %d", int(c))
	}
	if err := validateInputs(c, req); err != nil {
		return nil, err
	}
	r, err := e.selectRunner(c, preferred)
	if err != nil {
		return nil, err
	}
	j := &job{id: req.ID, cap: c, r: r, streaming: streaming}
	if streaming && !runner.CanStream(r) {
		return j, types.Errorf(types.CodeStreamingUnsupported, "runner %s cannot stream", r.Name())
	}

	var settings types.EngineSettings
	if e.cfg.Settings != nil {
		settings = e.cfg.Settings.Current()
	}
	schemas := runner.Schemas(r)
	j.loadParams = params.Merge(params.Defaults(schemas), settings.Params(r.Name()))
	effective := params.Merge(j.loadParams, req.Parameters)
	if err := runner.ValidateParameters(r, effective); err != nil {
		return j, types.Errorf(types.CodeInvalidInput, "%v", err)
	}
	j.modelID = runner.ModelFor(r, effective)
	j.req = types.InferenceRequest{ID: req.ID, SessionID: req.SessionID, Inputs: req.Inputs, Parameters: effective}
	return j, nil
}

func (e *Engine) selectRunner(c types.Capability, preferred string) (runner.Runner, *types.EngineError) {
	if preferred != "" {
		if r, ok := e.cfg.Registry.Lookup(preferred); ok {
			if !runner.Supports(r, c) {
				return nil, types.Errorf(types.CodeCapabilityUnsupported, "runner %s does not support %s", preferred, c)
			}
			return r, nil
		}
		e.log.Debug().Str("runner", preferred).Str("capability", c.String()).Msg("preferred runner not registered, using default selection")
	}
	r, ok := e.cfg.Registry.GetRunner(c)
	if !ok {
		return nil, types.Errorf(types.CodeRunnerNotFound, "no runner registered for %s", c)
	}
	return r, nil
}

func send(ctx context.Context, ch chan<- types.InferenceResult, r types.InferenceResult) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// execute runs on a pool worker. It is the only writer of ch and closes it.
func (e *Engine) execute(ctx context.Context, stop context.CancelFunc, j *job, ch chan<- types.InferenceResult) {
	start := time.Now()
	name := j.r.Name()
	outcome, code := "ok", ""
	chunks := 0
	defer func() {
		stop()
		e.cfg.Tracker.Unregister(j.id)
		activeRequests.Dec()
		requestsTotal.WithLabelValues(j.cap.String(), name, outcome, code).Inc()
		requestDuration.WithLabelValues(j.cap.String(), name).Observe(time.Since(start).Seconds())
		e.log.Debug().Str("request_id", j.id).Str("runner", name).Str("capability", j.cap.String()).
			Str("outcome", outcome).Int("chunks", chunks).Dur("dur", time.Since(start)).Msg("dispatch end")
		close(ch)
	}()

	ctx, span := tracer.Start(ctx, "dispatch.request", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("request_id", j.id),
		attribute.String("capability", j.cap.String()),
		attribute.String("runner", name),
		attribute.String("model", j.modelID),
		attribute.Bool("stream", j.streaming),
	)
	defer span.End()

	fail := func(err error) {
		ee := types.Wrap(types.CodeRuntime, err)
		outcome, code = "error", string(ee.Code)
		span.RecordError(err)
		span.SetStatus(codes.Error, ee.Error())
		send(ctx, ch, types.ErrorResult(ee))
	}

	if ctx.Err() != nil {
		outcome = "cancelled"
		return
	}
	lease, err := e.cfg.Lifecycle.Acquire(ctx, name, j.modelID, j.loadParams)
	if err != nil {
		if ctx.Err() != nil || types.IsCancellation(err) {
			outcome = "cancelled"
			return
		}
		fail(err)
		return
	}
	defer lease.Release()

	emit := func(r types.InferenceResult) error {
		r.Partial = true
		if !send(ctx, ch, r) {
			return ctx.Err()
		}
		chunks++
		streamChunks.WithLabelValues(j.cap.String()).Inc()
		return nil
	}

	var res types.InferenceResult
	var runErr error
	var pc panics.Catcher
	pc.Try(func() {
		if j.streaming {
			res, runErr = j.r.(runner.Streamer).RunStream(ctx, j.cap, j.req, emit)
		} else {
			res, runErr = j.r.Run(ctx, j.cap, j.req)
		}
	})
	if rec := pc.Recovered(); rec != nil {
		runErr = fmt.Errorf("runner %s panicked: %w", name, rec.AsError())
	}
	if ctx.Err() != nil {
		outcome = "cancelled"
		return
	}
	if runErr != nil {
		if types.IsCancellation(runErr) {
			outcome = "cancelled"
			return
		}
		fail(runErr)
		return
	}
	res.Partial = false
	if res.Error != nil {
		outcome, code = "error", string(res.Error.Code)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	res.Metadata["runner"] = name
	if j.modelID != "" {
		res.Metadata["model"] = j.modelID
	}
	send(ctx, ch, res)
}
