package types

import "maps"

// EngineSettings is an immutable snapshot of runner selection and parameters.
// With* methods return a new snapshot; the receiver is never modified.
type EngineSettings struct {
	SelectedRunners  map[Capability]string     `json:"selectedRunners"`
	RunnerParameters map[string]map[string]any `json:"runnerParameters"`
}

// Selected returns the runner selected for c.
func (s EngineSettings) Selected(c Capability) (string, bool) {
	name, ok := s.SelectedRunners[c]
	return name, ok && name != ""
}

// Params returns a copy of the parameters stored for runner.
func (s EngineSettings) Params(runner string) map[string]any {
	return maps.Clone(s.RunnerParameters[runner])
}

// Clone returns a deep copy.
func (s EngineSettings) Clone() EngineSettings {
	out := EngineSettings{
		SelectedRunners:  maps.Clone(s.SelectedRunners),
		RunnerParameters: make(map[string]map[string]any, len(s.RunnerParameters)),
	}
	if out.SelectedRunners == nil {
		out.SelectedRunners = map[Capability]string{}
	}
	for name, p := range s.RunnerParameters {
		out.RunnerParameters[name] = maps.Clone(p)
	}
	return out
}

// WithSelection returns a copy with runner selected for c. An empty runner clears it.
func (s EngineSettings) WithSelection(c Capability, runner string) EngineSettings {
	out := s.Clone()
	if runner == "" {
		delete(out.SelectedRunners, c)
	} else {
		out.SelectedRunners[c] = runner
	}
	return out
}

// WithParams returns a copy with the parameter map of runner replaced.
func (s EngineSettings) WithParams(runner string, params map[string]any) EngineSettings {
	out := s.Clone()
	if params == nil {
		delete(out.RunnerParameters, runner)
	} else {
		out.RunnerParameters[runner] = maps.Clone(params)
	}
	return out
}

// WithParam returns a copy with a single runner parameter set.
func (s EngineSettings) WithParam(runner, key string, value any) EngineSettings {
	out := s.Clone()
	p := out.RunnerParameters[runner]
	if p == nil {
		p = map[string]any{}
		out.RunnerParameters[runner] = p
	}
	p[key] = value
	return out
}
