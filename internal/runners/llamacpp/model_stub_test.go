//go:build !llama

package llamacpp

import (
	"context"
	"errors"
	"testing"

	"inferd/internal/runner"
)

func TestStubRefusesToLoad(t *testing.T) {
	rr, _ := FromEnv(nil)
	err := rr.Load(context.Background(), "m.gguf", runner.LoadOptions{ModelPath: "/m.gguf"})
	if !errors.Is(err, errNotBuilt) {
		t.Fatalf("err=%v", err)
	}
}
