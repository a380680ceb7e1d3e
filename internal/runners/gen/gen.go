// Package gen holds the text-generation parameters shared by the LLM
// runners and the prompt handling they have in common.
package gen

import (
	"strings"

	"inferd/internal/params"
	"inferd/pkg/types"
)

// Parameter names understood by every text-generation runner.
const (
	ParamTemperature   = "temperature"
	ParamTopP          = "top_p"
	ParamTopK          = "top_k"
	ParamMaxTokens     = "n_predict"
	ParamSeed          = "seed"
	ParamStop          = "stop"
	ParamRepeatPenalty = "repeat_penalty"
)

// Params captures generation parameters passed to a backend.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// Schemas declares the sampling parameters.
func Schemas() []params.Schema {
	return []params.Schema{
		{Name: ParamTemperature, DisplayName: "Temperature", Category: "sampling", Type: params.FloatRange(0, 2), Default: 0.8},
		{Name: ParamTopP, DisplayName: "Top P", Category: "sampling", Type: params.FloatRange(0, 1), Default: 0.95},
		{Name: ParamTopK, DisplayName: "Top K", Category: "sampling", Type: params.IntRange(0, 1000), Default: 40},
		{Name: ParamMaxTokens, DisplayName: "Max tokens", Description: "Tokens to generate per request.", Category: "sampling", Type: params.IntRange(1, 32768), Default: 256},
		{Name: ParamSeed, DisplayName: "Seed", Description: "0 picks a random seed.", Category: "sampling", Type: params.IntRange(0, 1<<31-1), Default: 0},
		{Name: ParamStop, DisplayName: "Stop sequences", Description: "One per line.", Category: "sampling", Type: params.StringType{MaxLength: 512, Multiline: true}},
		{Name: ParamRepeatPenalty, DisplayName: "Repeat penalty", Category: "sampling", Type: params.FloatRange(0, 2), Default: 1.1},
	}
}

// FromValues reads Params from validated parameter values. Missing values
// take the schema defaults.
func FromValues(values map[string]any) Params {
	p := Params{
		Temperature:   float32(params.Float(values, ParamTemperature, 0.8)),
		TopP:          float32(params.Float(values, ParamTopP, 0.95)),
		TopK:          params.Int(values, ParamTopK, 40),
		MaxTokens:     params.Int(values, ParamMaxTokens, 256),
		Seed:          params.Int(values, ParamSeed, 0),
		RepeatPenalty: float32(params.Float(values, ParamRepeatPenalty, 1.1)),
	}
	for _, s := range strings.Split(params.String(values, ParamStop, ""), "\n") {
		if s != "" {
			p.Stop = append(p.Stop, s)
		}
	}
	return p
}

// Prompt returns the prompt text of req. An optional "system" input is
// placed before it.
func Prompt(req types.InferenceRequest) (string, error) {
	text, ok := req.InputString("text")
	if !ok || strings.TrimSpace(text) == "" {
		return "", types.Errorf(types.CodeInvalidInput, "input text is required")
	}
	if sys, ok := req.InputString("system"); ok && sys != "" {
		return sys + "\n\n" + text, nil
	}
	return text, nil
}

// Result builds the terminal result of a generation.
func Result(text, finishReason string) types.InferenceResult {
	meta := map[string]any{}
	if finishReason != "" {
		meta["finish_reason"] = finishReason
	}
	return types.Final(map[string]any{"text": text}, meta)
}
