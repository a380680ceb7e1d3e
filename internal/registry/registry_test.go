package registry

import (
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/runner"
	"inferd/internal/runner/runnertest"
	"inferd/pkg/types"
)

func newTestRegistry() *Registry { return New(zerolog.Nop()) }

func TestGetRunnerPicksLowestScore(t *testing.T) {
	g := newTestRegistry()
	a := runnertest.New("RunnerA", runner.VendorMediaTek, runner.TierHigh, types.CapabilityLLM)
	b := runnertest.New("RunnerB", runner.VendorSherpa, runner.TierHigh, types.CapabilityLLM)
	for _, r := range []runner.Runner{b, a} {
		if err := g.Register(r); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	got, ok := g.GetRunner(types.CapabilityLLM)
	if !ok || got.Name() != "RunnerA" {
		t.Fatalf("got %v", got)
	}
	if _, ok := g.GetRunner(types.CapabilityTTS); ok {
		t.Fatalf("no TTS runner registered")
	}
	if n := len(g.GetAllRunners(types.CapabilityLLM)); n != 2 {
		t.Fatalf("GetAllRunners: %d", n)
	}
}

func TestRegisterRejectsBadCapabilities(t *testing.T) {
	g := newTestRegistry()
	if err := g.Register(runnertest.New("none", runner.VendorUnknown, runner.TierLow)); err == nil {
		t.Fatalf("empty capability set must be rejected")
	}
	dup := runnertest.New("dup", runner.VendorUnknown, runner.TierLow, types.CapabilityTTS, types.CapabilityTTS)
	if err := g.Register(dup); err == nil {
		t.Fatalf("duplicate capabilities must be rejected")
	}
	if len(g.Names()) != 0 {
		t.Fatalf("rejected runners must not be indexed")
	}
}

func TestReplaceRemovesOldCapabilityEntries(t *testing.T) {
	g := newTestRegistry()
	old := runnertest.New("x", runner.VendorSherpa, runner.TierHigh, types.CapabilityASR, types.CapabilityTTS)
	if err := g.Register(old); err != nil {
		t.Fatalf("register: %v", err)
	}
	repl := runnertest.New("x", runner.VendorSherpa, runner.TierHigh, types.CapabilityLLM)
	if err := g.Register(repl); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if errs := g.ValidateConsistency(); len(errs) != 0 {
		t.Fatalf("inconsistent: %v", errs)
	}
	if len(g.GetAllRunners(types.CapabilityASR)) != 0 || len(g.GetAllRunners(types.CapabilityTTS)) != 0 {
		t.Fatalf("old capability entries survived replacement")
	}
	got, ok := g.Lookup("x")
	if !ok || got != runner.Runner(repl) {
		t.Fatalf("name index not replaced")
	}
	if len(g.GetAllRunners(types.CapabilityLLM)) != 1 {
		t.Fatalf("new entry missing")
	}
}

func TestUnregister(t *testing.T) {
	g := newTestRegistry()
	_ = g.Register(runnertest.New("a", runner.VendorOllama, runner.TierNormal, types.CapabilityLLM, types.CapabilityVLM))
	if !g.Unregister("a") {
		t.Fatalf("expected found")
	}
	if g.Unregister("a") {
		t.Fatalf("second unregister must report not found")
	}
	if len(g.GetAllRunners(types.CapabilityVLM)) != 0 {
		t.Fatalf("capability index not cleaned")
	}
	if errs := g.ValidateConsistency(); len(errs) != 0 {
		t.Fatalf("inconsistent: %v", errs)
	}
}

func TestSelectionOverridesScore(t *testing.T) {
	g := newTestRegistry()
	a := runnertest.New("a", runner.VendorMediaTek, runner.TierHigh, types.CapabilityLLM)
	b := runnertest.New("b", runner.VendorOllama, runner.TierLow, types.CapabilityLLM)
	asr := runnertest.New("asr", runner.VendorSherpa, runner.TierHigh, types.CapabilityASR)
	_ = g.Register(a)
	_ = g.Register(b)
	_ = g.Register(asr)

	g.Select(types.CapabilityLLM, "b")
	if got, _ := g.GetRunner(types.CapabilityLLM); got.Name() != "b" {
		t.Fatalf("selection ignored: %s", got.Name())
	}
	// a pin to a runner that does not serve the capability falls back to score
	g.SetSelections(map[types.Capability]string{types.CapabilityLLM: "asr"})
	if got, _ := g.GetRunner(types.CapabilityLLM); got.Name() != "a" {
		t.Fatalf("fallback: %s", got.Name())
	}
	g.Select(types.CapabilityLLM, "b")
	g.Unregister("b")
	if got, _ := g.GetRunner(types.CapabilityLLM); got.Name() != "a" {
		t.Fatalf("pin to unregistered runner must fall back: %s", got.Name())
	}
	g.Select(types.CapabilityLLM, "")
	if _, ok := g.Selections()[types.CapabilityLLM]; ok {
		t.Fatalf("empty name must clear the pin")
	}
}
