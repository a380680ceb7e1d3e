package llamaserver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inferd/internal/runner"
	"inferd/internal/runners/gen"
	"inferd/pkg/types"
)

func TestValidateParametersCrossCheck(t *testing.T) {
	r := New(Config{})
	if err := r.ValidateParameters(map[string]any{ParamCtxSize: 512, gen.ParamMaxTokens: 256}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	err := r.ValidateParameters(map[string]any{ParamCtxSize: 512, gen.ParamMaxTokens: 1024})
	if err == nil || !strings.Contains(err.Error(), "must not exceed") {
		t.Fatalf("cross check missing: %v", err)
	}
	if err := r.ValidateParameters(map[string]any{runner.ParamModelID: "model.onnx"}); err == nil {
		t.Fatalf("non-gguf model accepted")
	}
	if err := r.ValidateParameters(map[string]any{gen.ParamTemperature: 3.0}); err == nil {
		t.Fatalf("out of range temperature accepted")
	}
}

func TestServerArgs(t *testing.T) {
	args := serverArgs("/m.gguf", "127.0.0.1", 8081, loadParams{CtxSize: 2048, GPULayers: 10}, []string{"--flash-attn"})
	want := "-m /m.gguf --host 127.0.0.1 --port 8081 -c 2048 -ngl 10 --flash-attn"
	if got := strings.Join(args, " "); got != want {
		t.Fatalf("args=%q want %q", got, want)
	}
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	if err != nil || p <= 0 {
		t.Fatalf("port=%d err=%v", p, err)
	}
}

func TestRunWithoutLoadIsNotLoaded(t *testing.T) {
	r := New(Config{})
	_, err := r.Run(context.Background(), types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "hi"}})
	if !types.IsCode(err, types.CodeModelNotLoaded) {
		t.Fatalf("err=%v", err)
	}
	if _, err := r.Run(context.Background(), types.CapabilityTTS, types.InferenceRequest{}); !types.IsCode(err, types.CodeCapabilityUnsupported) {
		t.Fatalf("tts err=%v", err)
	}
}

func TestLoadRejectsMissingModel(t *testing.T) {
	r := New(Config{})
	if err := r.Load(context.Background(), "", runner.LoadOptions{}); err == nil {
		t.Fatalf("empty model accepted")
	}
	if err := r.Load(context.Background(), "m.gguf", runner.LoadOptions{ModelPath: "/nonexistent/m.gguf"}); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestFromEnv(t *testing.T) {
	env := &runner.Env{
		Binaries: map[string]string{"llama-server": "/opt/llama/llama-server"},
		Options:  map[string]map[string]any{Name: {"default_model": "tiny.gguf", "extra_args": "--mlock  --no-mmap"}},
	}
	rr, err := FromEnv(env)
	if err != nil {
		t.Fatal(err)
	}
	r := rr.(*Runner)
	if r.cfg.Binary != "/opt/llama/llama-server" || r.Descriptor().DefaultModel != "tiny.gguf" || len(r.cfg.ExtraArgs) != 2 {
		t.Fatalf("cfg=%+v", r.cfg)
	}
}

// buildFakeServer builds the fake llama-server used for subprocess tests.
func buildFakeServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fake server: %v: %s", err, out)
	}
	return bin
}

func modelFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSubprocessLifecycle(t *testing.T) {
	bin := buildFakeServer(t)
	r := New(Config{Binary: bin, ReadyTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := modelFile(t, "tiny.gguf")
	if err := r.Load(ctx, "tiny.gguf", runner.LoadOptions{ModelPath: path, Parameters: map[string]any{ParamCtxSize: 1024}}); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = r.Unload(context.Background()) })
	if !r.IsLoaded() || r.LoadedModelID() != "tiny.gguf" {
		t.Fatalf("not loaded: %v %q", r.IsLoaded(), r.LoadedModelID())
	}

	var chunks []string
	res, err := r.RunStream(ctx, types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "one two"}}, func(c types.InferenceResult) error {
		chunks = append(chunks, c.Text())
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chunks) != 3 || res.Text() != "one two [c=1024]" || res.Metadata["finish_reason"] != "stop" {
		t.Fatalf("chunks=%q result=%+v", chunks, res)
	}

	if err := r.ApplyParameters(ctx, map[string]any{ParamCtxSize: 2048}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	res, err = r.Run(ctx, types.CapabilityLLM, types.InferenceRequest{Inputs: map[string]any{"text": "x"}})
	if err != nil || !strings.HasSuffix(res.Text(), "[c=2048]") {
		t.Fatalf("after restart: %q %v", res.Text(), err)
	}

	if err := r.Unload(ctx); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if r.IsLoaded() {
		t.Fatalf("still loaded after unload")
	}
}

func TestSubprocessEarlyExit(t *testing.T) {
	bin := buildFakeServer(t)
	r := New(Config{Binary: bin, ReadyTimeout: 5 * time.Second})
	err := r.Load(context.Background(), "broken.gguf", runner.LoadOptions{ModelPath: modelFile(t, "broken.gguf")})
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
	if r.IsLoaded() {
		t.Fatalf("loaded after early exit")
	}
}
