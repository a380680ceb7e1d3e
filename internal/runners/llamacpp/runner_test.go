package llamacpp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"inferd/internal/runner"
	"inferd/internal/runners/gen"
	"inferd/pkg/types"
)

type scriptedModel struct {
	tokens []string
	freed  bool
	lp     loadParams
}

func (m *scriptedModel) predict(ctx context.Context, _ string, _ gen.Params, _ int, onToken func(string) error) (string, error) {
	for _, t := range m.tokens {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if onToken != nil {
			if err := onToken(t); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(m.tokens, ""), nil
}

func (m *scriptedModel) free() { m.freed = true }

func withModel(t *testing.T, m *scriptedModel) {
	t.Helper()
	orig := openModel
	openModel = func(_ string, lp loadParams) (model, error) {
		m.lp = lp
		return m, nil
	}
	t.Cleanup(func() { openModel = orig })
}

func TestStreamAndUnload(t *testing.T) {
	m := &scriptedModel{tokens: []string{"a", "b"}}
	withModel(t, m)
	rr, _ := FromEnv(nil)
	r := rr.(*Runner)
	ctx := context.Background()

	if err := r.Load(ctx, "tiny.gguf", runner.LoadOptions{ModelPath: "/models/tiny.gguf", Parameters: map[string]any{ParamCtxSize: 512, ParamThreads: 2}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.lp.CtxSize != 512 || m.lp.Threads != 2 {
		t.Fatalf("load params=%+v", m.lp)
	}
	var got []string
	res, err := r.RunStream(ctx, types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "hi"}}, func(c types.InferenceResult) error {
		got = append(got, c.Text())
		return nil
	})
	if err != nil || res.Text() != "ab" || len(got) != 2 {
		t.Fatalf("res=%+v chunks=%v err=%v", res, got, err)
	}
	if err := r.Unload(ctx); err != nil || !m.freed || r.IsLoaded() {
		t.Fatalf("unload: err=%v freed=%v", err, m.freed)
	}
}

func TestConsumerErrorStopsPrediction(t *testing.T) {
	withModel(t, &scriptedModel{tokens: []string{"a", "b", "c"}})
	rr, _ := FromEnv(nil)
	r := rr.(*Runner)
	_ = r.Load(context.Background(), "m.gguf", runner.LoadOptions{ModelPath: "/m.gguf"})
	gone := errors.New("gone")
	_, err := r.RunStream(context.Background(), types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "hi"}}, func(types.InferenceResult) error { return gone })
	if !errors.Is(err, gone) {
		t.Fatalf("err=%v", err)
	}
}

func TestNotLoadedAndValidation(t *testing.T) {
	rr, _ := FromEnv(nil)
	r := rr.(*Runner)
	if _, err := r.Run(context.Background(), types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "x"}}); !types.IsCode(err, types.CodeModelNotLoaded) {
		t.Fatalf("err=%v", err)
	}
	if err := r.ValidateParameters(map[string]any{ParamCtxSize: 256, gen.ParamMaxTokens: 512}); err == nil {
		t.Fatalf("n_predict above ctx_size accepted")
	}
	if err := r.Load(context.Background(), "x", runner.LoadOptions{}); err == nil {
		t.Fatalf("load without path accepted")
	}
}
