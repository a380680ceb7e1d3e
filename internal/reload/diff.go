// Package reload applies engine settings changes to a running engine.
package reload

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"inferd/pkg/types"
)

// Kind classifies a Change.
type Kind int

const (
	RunnerSwitched Kind = iota
	ParametersChanged
)

func (k Kind) String() string {
	switch k {
	case RunnerSwitched:
		return "RUNNER_SWITCHED"
	case ParametersChanged:
		return "PARAMETERS_CHANGED"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Change is one difference between two settings snapshots.
type Change struct {
	Kind Kind
	// Capability is set for RunnerSwitched.
	Capability types.Capability
	// Runner is the newly selected runner, or the runner whose parameters changed.
	Runner string
	// Previous is the runner selected before a switch, empty if none.
	Previous string
	// Params holds the new parameters for ParametersChanged.
	Params map[string]any
}

func (c Change) String() string {
	if c.Kind == RunnerSwitched {
		return fmt.Sprintf("%s(%s: %q -> %q)", c.Kind, c.Capability, c.Previous, c.Runner)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Runner)
}

// Diff lists the changes from old to next. Switches come first in
// capability order, then parameter changes by runner name. A switch to no
// runner is not a change. Parameter changes are reported only for runners
// that were not switched in, since a switch loads with the new parameters.
func Diff(old, next types.EngineSettings) []Change {
	var out []Change
	switched := map[string]struct{}{}
	for _, c := range types.Capabilities {
		name, ok := next.Selected(c)
		if !ok {
			continue
		}
		prev, _ := old.Selected(c)
		if prev == name {
			continue
		}
		out = append(out, Change{Kind: RunnerSwitched, Capability: c, Runner: name, Previous: prev})
		switched[name] = struct{}{}
	}

	names := slices.Sorted(maps.Keys(old.RunnerParameters))
	for name := range next.RunnerParameters {
		if _, ok := old.RunnerParameters[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if _, ok := switched[name]; ok {
			continue
		}
		before, after := old.RunnerParameters[name], next.RunnerParameters[name]
		if paramsEqual(before, after) {
			continue
		}
		out = append(out, Change{Kind: ParametersChanged, Runner: name, Params: next.Params(name)})
	}
	return out
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.EqualFunc(a, b, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}
