package dispatch

import (
	"strings"

	"inferd/pkg/types"
)

// validateInputs checks the inputs a capability cannot run without.
func validateInputs(c types.Capability, req types.InferenceRequest) *types.EngineError {
	if len(req.Inputs) == 0 {
		return types.Errorf(types.CodeInvalidInput, "request has no inputs")
	}
	switch c {
	case types.CapabilityLLM:
		if _, ok := req.Inputs["messages"].([]any); ok {
			return nil
		}
		return requireText(req, "text")
	case types.CapabilityTTS, types.CapabilityGuardian:
		return requireText(req, "text")
	case types.CapabilityVLM:
		if err := requireText(req, "text"); err != nil {
			return err
		}
		return requirePresent(req, "image")
	case types.CapabilityASR:
		if _, ok := req.Inputs["audio_path"].(string); ok {
			return nil
		}
		return requirePresent(req, "audio")
	}
	return types.Errorf(types.CodeCapabilityUnsupported, "unknown capability %s", c)
}

func requireText(req types.InferenceRequest, name string) *types.EngineError {
	v, present := req.Inputs[name]
	if !present {
		return types.Errorf(types.CodeInvalidInput, "missing input %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return types.Errorf(types.CodeInvalidInput, "input %q must be a string, got %T", name, v)
	}
	if strings.TrimSpace(s) == "" {
		return types.Errorf(types.CodeInvalidInput, "input %q is empty", name)
	}
	return nil
}

func requirePresent(req types.InferenceRequest, name string) *types.EngineError {
	v, present := req.Inputs[name]
	if !present || v == nil {
		return types.Errorf(types.CodeInvalidInput, "missing input %q", name)
	}
	if s, ok := v.(string); ok && s == "" {
		return types.Errorf(types.CodeInvalidInput, "input %q is empty", name)
	}
	return nil
}
