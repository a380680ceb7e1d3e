//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferd/internal/runners/gen"
)

type nativeModel struct {
	l *llama.LLama
}

func openNative(path string, lp loadParams) (model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{llama.SetContext(lp.CtxSize)}
	if lp.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(lp.GPULayers))
	}
	l, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &nativeModel{l: l}, nil
}

func (m *nativeModel) predict(ctx context.Context, prompt string, p gen.Params, threads int, onToken func(string) error) (string, error) {
	var cbErr error
	m.l.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if onToken != nil {
			if cbErr = onToken(tok); cbErr != nil {
				return false
			}
		}
		return true
	})
	text, err := m.l.Predict(prompt, predictOptions(p, threads)...)
	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case cbErr != nil:
		return "", cbErr
	case err != nil:
		return "", err
	}
	return text, nil
}

func (m *nativeModel) free() { m.l.Free() }

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func positivef(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts generation params into go-llama.cpp options.
func predictOptions(p gen.Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(positivef(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(positive(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(p.Temperature),
		llama.SetPenalty(positivef(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
