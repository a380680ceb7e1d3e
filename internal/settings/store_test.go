package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"inferd/internal/params"
	"inferd/internal/registry"
	"inferd/internal/reload"
	"inferd/internal/runner"
	"inferd/internal/runner/runnertest"
	"inferd/pkg/types"
)

// recorder captures every change handed to it.
type recorder struct {
	mu    sync.Mutex
	calls [][2]types.EngineSettings
}

func (r *recorder) HandleSettingsChange(_ context.Context, old, next types.EngineSettings) reload.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]types.EngineSettings{old, next})
	return reload.Result{Changes: reload.Diff(old, next)}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() types.EngineSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1][1]
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	llm := runnertest.New("llama", runner.VendorLlamaCpp, runner.TierNormal, types.CapabilityLLM)
	llm.Schemas = []params.Schema{
		{Name: "ctx_size", Type: params.IntRange(128, 8192), Default: 2048},
		{Name: "n_predict", Type: params.IntRange(1, 8192), Default: 256},
		{Name: "temperature", Type: params.FloatRange(0, 2)},
	}
	llm.CrossCheck = func(v map[string]any) error {
		if params.Int(v, "n_predict", 0) > params.Int(v, "ctx_size", 0) {
			return errors.New("n_predict exceeds ctx_size")
		}
		return nil
	}
	require.NoError(t, reg.Register(llm))
	require.NoError(t, reg.Register(runnertest.New("piper", runner.VendorSherpa, runner.TierHigh, types.CapabilityTTS)))
	return reg
}

func TestParseFormats(t *testing.T) {
	jsonDoc := []byte(`{"selectedRunners":{"LLM":"llama"},"runnerParameters":{"llama":{"temperature":0.7}}}`)
	yamlDoc := []byte("selectedRunners:\n  LLM: llama\nrunnerParameters:\n  llama:\n    temperature: 0.7\n")

	for name, tc := range map[string]struct {
		data []byte
		f    Format
	}{"json": {jsonDoc, FormatJSON}, "yaml": {yamlDoc, FormatYAML}} {
		t.Run(name, func(t *testing.T) {
			s, err := Parse(tc.data, tc.f)
			require.NoError(t, err)
			got, ok := s.Selected(types.CapabilityLLM)
			require.True(t, ok)
			require.Equal(t, "llama", got)
			require.Equal(t, 0.7, s.Params("llama")["temperature"])
		})
	}
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":        `{"selected":{}}`,
		"selection not text": `{"selectedRunners":{"LLM":3}}`,
		"params not object":  `{"runnerParameters":{"llama":[1]}}`,
		"unknown capability": `{"selectedRunners":{"TELEPATHY":"x"}}`,
		"not json":           `{`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatJSON)
			require.Error(t, err)
			require.True(t, types.IsCode(err, types.CodeInvalidInput), "%v", err)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	s, err := Parse([]byte("  \n"), FormatYAML)
	require.NoError(t, err)
	require.Empty(t, s.SelectedRunners)
}

func TestValidateBothLayers(t *testing.T) {
	reg := testRegistry(t)
	base := types.EngineSettings{}.WithSelection(types.CapabilityLLM, "llama")

	require.NoError(t, Validate(base, reg))
	require.NoError(t, Validate(base.WithParam("llama", "temperature", 0.8), reg))
	require.NoError(t, Validate(base.WithParam("ghost", "anything", 1), reg), "unknown runners keep their parameters")

	tests := map[string]types.EngineSettings{
		"schema":           base.WithParam("llama", "temperature", 3.5),
		"cross field":      base.WithParam("llama", "n_predict", 4096).WithParam("llama", "ctx_size", 1024),
		"unknown param":    base.WithParam("llama", "top_k", 5),
		"unregistered":     base.WithSelection(types.CapabilityASR, "whisper"),
		"wrong capability": base.WithSelection(types.CapabilityTTS, "llama"),
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			err := Validate(s, reg)
			require.Error(t, err)
			require.True(t, types.IsCode(err, types.CodeInvalidInput))
		})
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.json")
	rec := &recorder{}
	store := New(Config{Path: path, Runners: testRegistry(t), Reloader: rec, Log: zerolog.Nop()})

	next := types.EngineSettings{}.WithSelection(types.CapabilityLLM, "llama").WithParam("llama", "temperature", 0.9)
	res, err := store.Update(context.Background(), next)
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	require.Equal(t, 1, rec.count())
	require.Equal(t, "llama", store.Current().SelectedRunners[types.CapabilityLLM])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	reread, err := Parse(data, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, next.SelectedRunners, reread.SelectedRunners)
	require.Equal(t, 0.9, reread.Params("llama")["temperature"])

	other := New(Config{Path: path, Runners: testRegistry(t), Log: zerolog.Nop()})
	_, err = other.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "llama", other.Current().SelectedRunners[types.CapabilityLLM])
}

func TestRejectedUpdateChangesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	rec := &recorder{}
	store := New(Config{Path: path, Runners: testRegistry(t), Reloader: rec, Log: zerolog.Nop()})

	_, err := store.Update(context.Background(), types.EngineSettings{}.WithParam("llama", "temperature", 5.0))
	require.Error(t, err)
	require.Equal(t, 0, rec.count())
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
	require.Empty(t, store.Current().RunnerParameters)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := New(Config{Path: filepath.Join(t.TempDir(), "none.yaml"), Log: zerolog.Nop()})
	res, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, res.Changes)
}

func TestWatchAppliesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("selectedRunners:\n  LLM: llama\n"), 0o644))
	rec := &recorder{}
	store := New(Config{Path: path, Runners: testRegistry(t), Reloader: rec, Debounce: 10 * time.Millisecond, Log: zerolog.Nop()})
	_, err := store.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(50 * time.Millisecond)

	// invalid edits are ignored
	require.NoError(t, os.WriteFile(path, []byte("selectedRunners:\n  LLM: nobody\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, rec.count())
	require.Equal(t, "llama", store.Current().SelectedRunners[types.CapabilityLLM])

	require.NoError(t, os.WriteFile(path, []byte("selectedRunners:\n  TTS: piper\n"), 0o644))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "piper", rec.last().SelectedRunners[types.CapabilityTTS])
}
