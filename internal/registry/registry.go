// Package registry indexes runners by name and by capability.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Registry is safe for concurrent use. One RWMutex guards the name index,
// the capability index and the selection map together.
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	byName   map[string]runner.Runner
	byCap    map[types.Capability][]string // names in registration order
	selected map[types.Capability]string
}

// New returns an empty registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "registry").Logger(),
		byName:   map[string]runner.Runner{},
		byCap:    map[types.Capability][]string{},
		selected: map[types.Capability]string{},
	}
}

// Register indexes r under its name and every capability it declares. An
// existing runner with the same name is removed from all indexes first.
func (g *Registry) Register(r runner.Runner) error {
	if r == nil {
		return fmt.Errorf("register: nil runner")
	}
	name := r.Name()
	if name == "" {
		return fmt.Errorf("register: runner has empty name")
	}
	caps := slices.Clone(r.Capabilities())
	if err := runner.ValidateCapabilities(caps); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	_, replaced := g.byName[name]
	if replaced {
		g.removeLocked(name)
	}
	g.byName[name] = r
	for _, c := range caps {
		g.byCap[c] = append(g.byCap[c], name)
	}
	registryRunners.Set(float64(len(g.byName)))
	g.log.Debug().Str("runner", name).Bool("replaced", replaced).Int("score", ScoreOf(r)).Msg("registered")
	return nil
}

// Unregister removes the runner named name. It reports whether one existed.
func (g *Registry) Unregister(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byName[name]; !ok {
		return false
	}
	g.removeLocked(name)
	registryRunners.Set(float64(len(g.byName)))
	g.log.Debug().Str("runner", name).Msg("unregistered")
	return true
}

func (g *Registry) removeLocked(name string) {
	delete(g.byName, name)
	for c, names := range g.byCap {
		names = slices.DeleteFunc(names, func(n string) bool { return n == name })
		if len(names) == 0 {
			delete(g.byCap, c)
		} else {
			g.byCap[c] = names
		}
	}
}

// Lookup returns the runner registered under name.
func (g *Registry) Lookup(name string) (runner.Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byName[name]
	return r, ok
}

// Names returns registered runner names, sorted.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.byName))
}

// GetAllRunners returns every runner declaring c, in registration order.
func (g *Registry) GetAllRunners(c types.Capability) []runner.Runner {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.candidatesLocked(c)
}

func (g *Registry) candidatesLocked(c types.Capability) []runner.Runner {
	names := g.byCap[c]
	out := make([]runner.Runner, 0, len(names))
	for _, n := range names {
		if r, ok := g.byName[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

// GetRunner returns the runner new requests for c are routed to: the
// selected runner when one is set and still serves c, else the best scored.
func (g *Registry) GetRunner(c types.Capability) (runner.Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name, ok := g.selected[c]; ok {
		if r, ok := g.byName[name]; ok && runner.Supports(r, c) {
			return r, true
		}
	}
	best := SelectBest(g.candidatesLocked(c))
	return best, best != nil
}

// Select pins c to the runner named name. An empty name clears the pin.
func (g *Registry) Select(c types.Capability, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == "" {
		delete(g.selected, c)
		return
	}
	g.selected[c] = name
}

// SetSelections replaces all pins at once.
func (g *Registry) SetSelections(sel map[types.Capability]string) {
	next := make(map[types.Capability]string, len(sel))
	for c, n := range sel {
		if n != "" {
			next[c] = n
		}
	}
	g.mu.Lock()
	g.selected = next
	g.mu.Unlock()
}

// Selections returns a copy of the current pins.
func (g *Registry) Selections() map[types.Capability]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.selected)
}

// ValidateConsistency returns one message per broken invariant. An empty
// result means the indexes agree.
func (g *Registry) ValidateConsistency() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var errs []string
	for c, names := range g.byCap {
		seen := map[string]struct{}{}
		for _, n := range names {
			r, ok := g.byName[n]
			if !ok {
				errs = append(errs, fmt.Sprintf("%s index references unknown runner %q", c, n))
				continue
			}
			if !runner.Supports(r, c) {
				errs = append(errs, fmt.Sprintf("%s index holds %q which does not declare it", c, n))
			}
			if _, dup := seen[n]; dup {
				errs = append(errs, fmt.Sprintf("%s index lists %q twice", c, n))
			}
			seen[n] = struct{}{}
		}
	}
	for n, r := range g.byName {
		for _, c := range r.Capabilities() {
			if !slices.Contains(g.byCap[c], n) {
				errs = append(errs, fmt.Sprintf("runner %q missing from %s index", n, c))
			}
		}
	}
	slices.Sort(errs)
	return errs
}
