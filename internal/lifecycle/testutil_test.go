package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/runner"
	"inferd/internal/runner/runnertest"
	"inferd/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newFake(name string) *runnertest.Fake {
	return runnertest.New(name, runner.VendorSherpa, runner.TierNormal, types.CapabilityLLM)
}

// sizedModels estimates from a fixed table.
type sizedModels map[string]int

func (s sizedModels) Resolve(id string) string { return "/models/" + id }
func (s sizedModels) EstimateMB(id string) int {
	if mb, ok := s[id]; ok {
		return mb
	}
	return 1
}

// flakyRunner fails the first n loads.
type flakyRunner struct {
	*runnertest.Fake
	failures atomic.Int32
}

func (f *flakyRunner) Load(ctx context.Context, modelID string, opts runner.LoadOptions) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("transient")
	}
	return f.Fake.Load(ctx, modelID, opts)
}

// plainRunner hides the fake's ParameterApplier implementation.
type plainRunner struct{ f *runnertest.Fake }

func (p plainRunner) Name() string                     { return p.f.Name() }
func (p plainRunner) Capabilities() []types.Capability { return p.f.Capabilities() }
func (p plainRunner) Load(ctx context.Context, m string, o runner.LoadOptions) error {
	return p.f.Load(ctx, m, o)
}
func (p plainRunner) Run(ctx context.Context, c types.Capability, r types.InferenceRequest) (types.InferenceResult, error) {
	return p.f.Run(ctx, c, r)
}
func (p plainRunner) Unload(ctx context.Context) error { return p.f.Unload(ctx) }
func (p plainRunner) IsLoaded() bool                   { return p.f.IsLoaded() }
func (p plainRunner) LoadedModelID() string            { return p.f.LoadedModelID() }

func newManager(cfg Config) *Manager {
	cfg.Log = zerolog.Nop()
	return New(cfg)
}

// gatedApplier blocks in ApplyParameters until gate is closed.
type gatedApplier struct {
	*runnertest.Fake
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedApplier) ApplyParameters(ctx context.Context, values map[string]any) error {
	close(g.entered)
	<-g.gate
	return g.Fake.ApplyParameters(ctx, values)
}
