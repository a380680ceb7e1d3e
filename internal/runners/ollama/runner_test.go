package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"inferd/internal/runner"
	"inferd/pkg/types"
)

// fakeServer answers the subset of the Ollama API the runner uses.
type fakeServer struct {
	mu       sync.Mutex
	models   map[string]bool
	pulled   []string
	warmed   []string
	evicted  []string
	lastChat map[string]any
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	model, _ := body["model"].(string)
	switch r.URL.Path {
	case "/":
		w.WriteHeader(http.StatusOK)
	case "/api/show":
		if !f.models[model] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"modelfile":""}`))
	case "/api/pull":
		f.pulled = append(f.pulled, model)
		f.models[model] = true
		_, _ = w.Write([]byte(`{"status":"success"}` + "\n"))
	case "/api/generate":
		if ka := body["keep_alive"]; ka == "0s" || ka == float64(0) {
			f.evicted = append(f.evicted, model)
		} else {
			f.warmed = append(f.warmed, model)
		}
		_, _ = w.Write([]byte(`{"model":"` + model + `","done":true,"done_reason":"load"}` + "\n"))
	case "/api/chat":
		f.lastChat = body
		enc := json.NewEncoder(w)
		if stream, _ := body["stream"].(bool); stream {
			for _, s := range []string{"Hel", "lo"} {
				_ = enc.Encode(map[string]any{"model": model, "message": map[string]any{"role": "assistant", "content": s}})
			}
			_ = enc.Encode(map[string]any{"model": model, "message": map[string]any{"role": "assistant", "content": ""}, "done": true, "done_reason": "stop", "eval_count": 2})
			return
		}
		_ = enc.Encode(map[string]any{"model": model, "message": map[string]any{"role": "assistant", "content": "Hello"}, "done": true, "done_reason": "stop"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// seen returns copies of what the server recorded.
func (f *fakeServer) seen() (warmed, evicted, pulled []string, chat map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.warmed...), append([]string(nil), f.evicted...), append([]string(nil), f.pulled...), f.lastChat
}

func newRunner(t *testing.T, pull bool) (*Runner, *fakeServer) {
	t.Helper()
	fs := &fakeServer{models: map[string]bool{"llama3.2:3b": true}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	r, err := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Pull: pull})
	require.NoError(t, err)
	return r, fs
}

func TestLoadWarmsAndUnloadEvicts(t *testing.T) {
	r, fs := newRunner(t, false)
	ctx := context.Background()
	require.NoError(t, r.Load(ctx, "llama3.2:3b", runner.LoadOptions{Parameters: map[string]any{ParamKeepAlive: "10m"}}))
	require.True(t, r.IsLoaded())
	require.Equal(t, "llama3.2:3b", r.LoadedModelID())
	warmed, _, _, _ := fs.seen()
	require.Equal(t, []string{"llama3.2:3b"}, warmed)

	require.NoError(t, r.Unload(ctx))
	require.False(t, r.IsLoaded())
	_, evicted, _, _ := fs.seen()
	require.Equal(t, []string{"llama3.2:3b"}, evicted)
}

func TestLoadMissingModel(t *testing.T) {
	r, fs := newRunner(t, false)
	require.Error(t, r.Load(context.Background(), "nope", runner.LoadOptions{}))
	require.False(t, r.IsLoaded())

	r.cfg.Pull = true
	require.NoError(t, r.Load(context.Background(), "nope", runner.LoadOptions{}))
	_, _, pulled, _ := fs.seen()
	require.Equal(t, []string{"nope"}, pulled)
}

func TestChatStreamsAndCollects(t *testing.T) {
	r, fs := newRunner(t, false)
	ctx := context.Background()
	require.NoError(t, r.Load(ctx, "llama3.2:3b", runner.LoadOptions{}))

	var chunks []string
	res, err := r.RunStream(ctx, types.CapabilityLLM, types.InferenceRequest{
		Inputs:     map[string]any{"text": "hi", "system": "be brief"},
		Parameters: map[string]any{"temperature": 0.2, "stop": "END"},
	}, func(c types.InferenceResult) error {
		require.True(t, c.Partial)
		chunks = append(chunks, c.Text())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo"}, chunks)
	require.Equal(t, "Hello", res.Text())
	require.Equal(t, "stop", res.Metadata["finish_reason"])
	_, _, _, chat := fs.seen()
	require.Len(t, chat["messages"], 2)
	opts := chat["options"].(map[string]any)
	require.InDelta(t, 0.2, opts["temperature"], 1e-6)
	require.Equal(t, []any{"END"}, opts["stop"])

	res, err = r.Run(ctx, types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	require.Equal(t, "Hello", res.Text())
	_, _, _, chat = fs.seen()
	require.Equal(t, false, chat["stream"])
}

func TestVisionRequestCarriesImage(t *testing.T) {
	r, fs := newRunner(t, false)
	ctx := context.Background()
	require.NoError(t, r.Load(ctx, "llama3.2:3b", runner.LoadOptions{}))

	img := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	_, err := r.Run(ctx, types.CapabilityVLM, types.InferenceRequest{Inputs: map[string]any{"text": "what is this", "image": "data:image/png;base64," + img}})
	require.NoError(t, err)
	_, _, _, chat := fs.seen()
	msgs := chat["messages"].([]any)
	user := msgs[0].(map[string]any)
	require.Equal(t, []any{img}, user["images"])

	_, err = r.Run(ctx, types.CapabilityVLM, types.InferenceRequest{Inputs: map[string]any{"text": "x", "image": "%%%"}})
	require.True(t, types.IsCode(err, types.CodeInvalidInput))
	_, err = r.Run(ctx, types.CapabilityVLM, types.InferenceRequest{Inputs: map[string]any{"text": "x"}})
	require.True(t, types.IsCode(err, types.CodeInvalidInput))
}

func TestRunBeforeLoad(t *testing.T) {
	r, _ := newRunner(t, false)
	_, err := r.Run(context.Background(), types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "hi"}})
	require.True(t, types.IsCode(err, types.CodeModelNotLoaded))
	_, err = r.Run(context.Background(), types.CapabilityASR, types.InferenceRequest{})
	require.True(t, types.IsCode(err, types.CodeCapabilityUnsupported))
}

func TestValidateParameters(t *testing.T) {
	r, _ := newRunner(t, false)
	require.NoError(t, r.ValidateParameters(map[string]any{ParamKeepAlive: "-1", ParamNumCtx: 8192}))
	require.Error(t, r.ValidateParameters(map[string]any{ParamKeepAlive: "forever"}))
	require.Error(t, r.ValidateParameters(map[string]any{ParamNumCtx: 512, "n_predict": 1024}))
}

func TestFromEnvRequiresServer(t *testing.T) {
	_, err := FromEnv(&runner.Env{Options: map[string]map[string]any{Name: {"url": "http://127.0.0.1:1"}}})
	require.Error(t, err)

	srv := httptest.NewServer(&fakeServer{models: map[string]bool{}})
	defer srv.Close()
	rr, err := FromEnv(&runner.Env{Options: map[string]map[string]any{Name: {"url": srv.URL, "default_model": "qwen2.5:0.5b"}}})
	require.NoError(t, err)
	require.Equal(t, "qwen2.5:0.5b", rr.(*Runner).Descriptor().DefaultModel)
}
