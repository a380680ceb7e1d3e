package lifecycle

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Manager owns the controllers of every adopted runner.
type Manager struct {
	cfg         Config
	log         zerolog.Logger
	controllers *xsync.MapOf[string, *Controller]

	// budgetMu serializes budget checks; reservedMB counts loads in progress.
	budgetMu   sync.Mutex
	reservedMB int

	loads     atomic.Uint64
	evictions atomic.Uint64
}

// New returns a Manager with cfg defaults applied.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:         cfg,
		log:         cfg.Log.With().Str("component", "lifecycle").Logger(),
		controllers: xsync.NewMapOf[string, *Controller](),
	}
}

// Adopt takes ownership of r. Adopting a different instance under an
// existing name replaces the controller; the old instance is unloaded.
func (m *Manager) Adopt(ctx context.Context, r runner.Runner) *Controller {
	if c, ok := m.controllers.Load(r.Name()); ok && c.r == r {
		return c
	}
	cfg := m.cfg
	cfg.Log = m.log
	next := newController(r, cfg)
	if prev, loaded := m.controllers.LoadAndStore(r.Name(), next); loaded {
		if err := prev.Unload(ctx); err != nil {
			m.log.Warn().Str("runner", r.Name()).Err(err).Msg("unload of replaced runner failed")
		}
	}
	return next
}

// Forget unloads and drops the controller for name.
func (m *Manager) Forget(ctx context.Context, name string) error {
	c, ok := m.controllers.LoadAndDelete(name)
	if !ok {
		return errRunnerNotFound(name)
	}
	return c.Unload(ctx)
}

// Controller returns the controller for name.
func (m *Manager) Controller(name string) (*Controller, bool) {
	return m.controllers.Load(name)
}

// Names returns the managed runner names, sorted.
func (m *Manager) Names() []string {
	var names []string
	m.controllers.Range(func(k string, _ *Controller) bool {
		names = append(names, k)
		return true
	})
	slices.Sort(names)
	return names
}

// Ensure loads modelID on runner name, evicting idle runners if the
// budget requires it.
func (m *Manager) Ensure(ctx context.Context, name, modelID string, params map[string]any) error {
	c, ok := m.controllers.Load(name)
	if !ok {
		return errRunnerNotFound(name)
	}
	return m.ensure(ctx, c, modelID, params)
}

func (m *Manager) ensure(ctx context.Context, c *Controller, modelID string, params map[string]any) error {
	if c.loaded(modelID) {
		c.touch()
		return nil
	}
	reserved, err := m.reserve(ctx, c, modelID)
	if err != nil {
		return err
	}
	defer m.release(reserved)
	if err := c.Load(ctx, modelID, params); err != nil {
		return err
	}
	m.loads.Add(1)
	return nil
}

// Lease is a shared hold on a loaded runner. Release must be called once.
type Lease struct {
	c       *Controller
	release func()
	once    sync.Once
	ModelID string
}

// Runner returns the leased runner.
func (l *Lease) Runner() runner.Runner { return l.c.r }

// Release returns the admission slot and lets pending transitions proceed.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.c.exec.RUnlock()
		l.c.touch()
		l.release()
	})
}

const acquireAttempts = 3

// Acquire admits a request on runner name, ensures modelID is loaded and
// returns a lease that keeps it loaded until released.
func (m *Manager) Acquire(ctx context.Context, name, modelID string, params map[string]any) (*Lease, error) {
	c, ok := m.controllers.Load(name)
	if !ok {
		return nil, errRunnerNotFound(name)
	}
	release, err := c.admit(ctx, m.cfg.MaxWait)
	if err != nil {
		return nil, err
	}
	for range acquireAttempts {
		if err := m.ensure(ctx, c, modelID, params); err != nil {
			release()
			return nil, err
		}
		if err := c.rlock(ctx); err != nil {
			release()
			return nil, err
		}
		if c.loaded(modelID) {
			return &Lease{c: c, release: release, ModelID: modelID}, nil
		}
		// another request switched the model between ensure and lock
		c.exec.RUnlock()
	}
	release()
	return nil, types.Errorf(types.CodeModelNotLoaded, "%s could not keep model %s loaded", name, modelID)
}

// ApplyParameters forwards params to the runner's controller.
func (m *Manager) ApplyParameters(ctx context.Context, name string, params map[string]any) error {
	c, ok := m.controllers.Load(name)
	if !ok {
		return errRunnerNotFound(name)
	}
	return c.ApplyParameters(ctx, params)
}

// Unload unloads runner name, waiting for in-flight requests.
func (m *Manager) Unload(ctx context.Context, name string) error {
	c, ok := m.controllers.Load(name)
	if !ok {
		return errRunnerNotFound(name)
	}
	return c.Unload(ctx)
}

// UnloadAll unloads every runner and returns the joined errors.
func (m *Manager) UnloadAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		if err := m.Unload(ctx, name); err != nil && !IsRunnerNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
