// Package runnertest provides a scriptable in-memory runner for tests.
package runnertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Fake is a runner whose behavior is set through its exported fields.
// Fields must be set before the fake is shared between goroutines.
type Fake struct {
	Desc runner.Descriptor

	// Chunks are emitted by RunStream, then an empty terminal result is returned.
	Chunks []string
	// ChunkDelay is waited before each chunk, honoring ctx.
	ChunkDelay time.Duration
	// Block makes Run and RunStream wait for ctx cancellation after the chunks.
	Block bool
	// LoadDelay is waited inside Load, honoring ctx.
	LoadDelay time.Duration
	LoadErr   error
	RunErr    error
	Schemas   []params.Schema
	// CrossCheck is called by ValidateParameters after schema validation.
	CrossCheck func(map[string]any) error

	mu        sync.Mutex
	loaded    bool
	modelID   string
	applied   []map[string]any
	loads     atomic.Int32
	unloads   atomic.Int32
	runs      atomic.Int32
	inLoad    atomic.Int32
	maxInLoad atomic.Int32
}

// New returns a fake named name serving caps.
func New(name string, vendor runner.Vendor, tier runner.Tier, caps ...types.Capability) *Fake {
	return &Fake{Desc: runner.Descriptor{
		Name:         name,
		Vendor:       vendor,
		Tier:         tier,
		Capabilities: caps,
		DefaultModel: name + "-default",
	}}
}

func (f *Fake) Name() string                      { return f.Desc.Name }
func (f *Fake) Capabilities() []types.Capability  { return f.Desc.Capabilities }
func (f *Fake) Descriptor() runner.Descriptor     { return f.Desc }
func (f *Fake) ParameterSchemas() []params.Schema { return f.Schemas }

func (f *Fake) ValidateParameters(values map[string]any) error {
	if err := params.ValidateAll(f.Schemas, values); err != nil {
		return err
	}
	if f.CrossCheck != nil {
		return f.CrossCheck(values)
	}
	return nil
}

func (f *Fake) Load(ctx context.Context, modelID string, _ runner.LoadOptions) error {
	n := f.inLoad.Add(1)
	defer f.inLoad.Add(-1)
	for {
		m := f.maxInLoad.Load()
		if n <= m || f.maxInLoad.CompareAndSwap(m, n) {
			break
		}
	}
	f.loads.Add(1)
	if err := sleep(ctx, f.LoadDelay); err != nil {
		return err
	}
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.mu.Lock()
	f.loaded, f.modelID = true, modelID
	f.mu.Unlock()
	return nil
}

func (f *Fake) Unload(context.Context) error {
	f.unloads.Add(1)
	f.mu.Lock()
	f.loaded, f.modelID = false, ""
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *Fake) LoadedModelID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modelID
}

func (f *Fake) ApplyParameters(_ context.Context, values map[string]any) error {
	f.mu.Lock()
	f.applied = append(f.applied, values)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Run(ctx context.Context, _ types.Capability, req types.InferenceRequest) (types.InferenceResult, error) {
	f.runs.Add(1)
	if f.RunErr != nil {
		return types.InferenceResult{}, f.RunErr
	}
	if f.Block {
		<-ctx.Done()
		return types.InferenceResult{}, ctx.Err()
	}
	text := ""
	for _, c := range f.Chunks {
		text += c
	}
	if text == "" {
		text, _ = req.InputString("text")
	}
	return types.Final(map[string]any{"text": text}, map[string]any{"runner": f.Desc.Name, "model": f.LoadedModelID()}), nil
}

func (f *Fake) RunStream(ctx context.Context, _ types.Capability, _ types.InferenceRequest, emit runner.Emit) (types.InferenceResult, error) {
	f.runs.Add(1)
	for _, c := range f.Chunks {
		if err := sleep(ctx, f.ChunkDelay); err != nil {
			return types.InferenceResult{}, err
		}
		if err := emit(types.TextChunk(c)); err != nil {
			return types.InferenceResult{}, err
		}
	}
	if f.RunErr != nil {
		return types.InferenceResult{}, f.RunErr
	}
	if f.Block {
		<-ctx.Done()
		return types.InferenceResult{}, ctx.Err()
	}
	return types.Final(map[string]any{"text": ""}, nil), nil
}

// Loads is the number of Load calls.
func (f *Fake) Loads() int { return int(f.loads.Load()) }

// Unloads is the number of Unload calls.
func (f *Fake) Unloads() int { return int(f.unloads.Load()) }

// Runs is the number of Run and RunStream calls.
func (f *Fake) Runs() int { return int(f.runs.Load()) }

// MaxConcurrentLoads is the highest number of overlapping Load calls seen.
func (f *Fake) MaxConcurrentLoads() int { return int(f.maxInLoad.Load()) }

// Applied returns the parameter maps passed to ApplyParameters.
func (f *Fake) Applied() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.applied...)
}

// Bare is a runner without descriptor metadata.
type Bare struct {
	N    string
	Caps []types.Capability
}

func (b *Bare) Name() string                     { return b.N }
func (b *Bare) Capabilities() []types.Capability { return b.Caps }
func (b *Bare) Load(context.Context, string, runner.LoadOptions) error {
	return nil
}
func (b *Bare) Run(context.Context, types.Capability, types.InferenceRequest) (types.InferenceResult, error) {
	return types.InferenceResult{}, errors.New("bare runner does nothing")
}
func (b *Bare) Unload(context.Context) error { return nil }
func (b *Bare) IsLoaded() bool               { return true }
func (b *Bare) LoadedModelID() string        { return "" }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
