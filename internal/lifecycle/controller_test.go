package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"inferd/pkg/types"
)

func TestLoadIsIdempotent(t *testing.T) {
	m := newManager(Config{})
	f := newFake("a")
	c := m.Adopt(testCtx(t), f)
	for i := 0; i < 3; i++ {
		if err := m.Ensure(testCtx(t), "a", "m1", nil); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if f.Loads() != 1 {
		t.Fatalf("expected 1 load, got %d", f.Loads())
	}
	if c.State() != StateLoaded || c.LoadedModelID() != "m1" {
		t.Fatalf("state=%s model=%s", c.State(), c.LoadedModelID())
	}
}

func TestModelSwitchUnloadsFirst(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newManager(Config{Publisher: pub})
	f := newFake("a")
	m.Adopt(testCtx(t), f)
	if err := m.Ensure(testCtx(t), "a", "m1", nil); err != nil {
		t.Fatalf("ensure m1: %v", err)
	}
	if err := m.Ensure(testCtx(t), "a", "m2", nil); err != nil {
		t.Fatalf("ensure m2: %v", err)
	}
	if f.Unloads() != 1 || f.LoadedModelID() != "m2" {
		t.Fatalf("unloads=%d model=%s", f.Unloads(), f.LoadedModelID())
	}
	want := []string{"load_start", "load_ready", "unload_start", "unload_done", "load_start", "load_ready"}
	if got := pub.Names(); !slices.Equal(got, want) {
		t.Fatalf("events %v want %v", got, want)
	}
}

func TestFailedLoadLeavesUnloaded(t *testing.T) {
	m := newManager(Config{})
	f := newFake("a")
	f.LoadErr = errors.New("weights corrupt")
	c := m.Adopt(testCtx(t), f)
	err := m.Ensure(testCtx(t), "a", "m1", nil)
	if !types.IsCode(err, types.CodeModelLoadFailed) {
		t.Fatalf("expected E501, got %v", err)
	}
	if c.IsLoaded() || c.LoadedModelID() != "" || c.State() != StateUnloaded {
		t.Fatalf("half-loaded: loaded=%v model=%q state=%s", c.IsLoaded(), c.LoadedModelID(), c.State())
	}
	if c.LastError() == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestLoadRetries(t *testing.T) {
	m := newManager(Config{LoadAttempts: 3, LoadRetryDelay: time.Millisecond})
	f := &flakyRunner{Fake: newFake("a")}
	f.failures.Store(2)
	m.Adopt(testCtx(t), f)
	if err := m.Ensure(testCtx(t), "a", "m1", nil); err != nil {
		t.Fatalf("ensure with retries: %v", err)
	}
	if !f.IsLoaded() {
		t.Fatalf("not loaded after retries")
	}
}

func TestConcurrentLoadsAreSerialized(t *testing.T) {
	m := newManager(Config{})
	f := newFake("a")
	f.LoadDelay = 20 * time.Millisecond
	m.Adopt(testCtx(t), f)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Ensure(testCtx(t), "a", "m1", nil); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.MaxConcurrentLoads() != 1 {
		t.Fatalf("overlapping loads: %d", f.MaxConcurrentLoads())
	}
	if f.Loads() != 1 {
		t.Fatalf("duplicate native loads: %d", f.Loads())
	}
}

func TestUnknownRunner(t *testing.T) {
	m := newManager(Config{})
	err := m.Ensure(testCtx(t), "ghost", "m", nil)
	if !IsRunnerNotFound(err) || !types.IsCode(err, types.CodeRunnerNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestApplyParameters(t *testing.T) {
	m := newManager(Config{})
	f := newFake("a")
	m.Adopt(testCtx(t), f)
	if err := m.ApplyParameters(testCtx(t), "a", map[string]any{"t": 0.1}); err != nil {
		t.Fatalf("apply while unloaded: %v", err)
	}
	if len(f.Applied()) != 0 {
		t.Fatalf("unloaded runner must only record params")
	}
	if err := m.Ensure(testCtx(t), "a", "m1", map[string]any{"t": 0.1}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := m.ApplyParameters(testCtx(t), "a", map[string]any{"t": 0.8}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := f.Applied(); len(got) != 1 || got[0]["t"] != 0.8 {
		t.Fatalf("applied: %v", got)
	}

	plain := newFake("p")
	m.Adopt(testCtx(t), plainRunner{f: plain})
	_ = m.Ensure(testCtx(t), "p", "m1", nil)
	if err := m.ApplyParameters(testCtx(t), "p", map[string]any{"t": 0.5}); err != nil {
		t.Fatalf("apply plain: %v", err)
	}
	if plain.Loads() != 2 || plain.Unloads() != 1 || plain.LoadedModelID() != "m1" {
		t.Fatalf("plain runner must be reloaded: loads=%d unloads=%d", plain.Loads(), plain.Unloads())
	}
}

func TestAcquireGivesUpDuringTransition(t *testing.T) {
	m := newManager(Config{MaxConcurrent: 2, MaxQueueDepth: 4})
	g := &gatedApplier{Fake: newFake("a"), entered: make(chan struct{}), gate: make(chan struct{})}
	m.Adopt(testCtx(t), g)
	if err := m.Ensure(testCtx(t), "a", "m1", nil); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	applied := make(chan error, 1)
	go func() { applied <- m.ApplyParameters(testCtx(t), "a", map[string]any{"k": 1}) }()
	<-g.entered

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	if _, err := m.Acquire(ctx, "a", "m1", nil); !types.IsCancellation(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("acquire waited %s for the transition", d)
	}

	close(g.gate)
	if err := <-applied; err != nil {
		t.Fatalf("apply: %v", err)
	}
	// the abandoned wait must not keep a shared hold
	if err := m.Unload(testCtx(t), "a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if g.IsLoaded() {
		t.Fatalf("still loaded after unload")
	}
}
