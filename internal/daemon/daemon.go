// Package daemon assembles the engine: catalog, plugin discovery,
// registry, lifecycle, dispatch, reload and settings. A Daemon is the
// service behind the HTTP API.
package daemon

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cancel"
	"inferd/internal/catalog"
	"inferd/internal/config"
	"inferd/internal/dispatch"
	"inferd/internal/lifecycle"
	"inferd/internal/params"
	"inferd/internal/plugin"
	"inferd/internal/registry"
	"inferd/internal/reload"
	"inferd/internal/runner"
	"inferd/internal/settings"
	"inferd/pkg/types"
)

// Config wires a Daemon.
type Config struct {
	ModelsDir    string
	SettingsPath string

	Workers       int
	BudgetMB      int
	MarginMB      int
	MaxConcurrent int
	MaxQueueDepth int
	MaxWait       time.Duration
	LoadAttempts  int

	DiscoveryTimeout time.Duration
	Binaries         map[string]string
	RunnerOptions    map[string]map[string]any

	Plugins []plugin.Plugin
	// Host overrides host probing.
	Host *plugin.Host
	Log  zerolog.Logger
}

// ConfigFrom maps the file/env configuration onto a daemon Config.
func ConfigFrom(c config.Config, plugins []plugin.Plugin, log zerolog.Logger) Config {
	c = c.WithDefaults()
	return Config{
		ModelsDir:        c.ModelsDir,
		SettingsPath:     c.SettingsPath,
		Workers:          c.Workers,
		BudgetMB:         c.BudgetMB,
		MarginMB:         c.MarginMB,
		MaxConcurrent:    c.MaxConcurrent,
		MaxQueueDepth:    c.MaxQueueDepth,
		MaxWait:          time.Duration(c.MaxWaitSeconds) * time.Second,
		LoadAttempts:     c.LoadAttempts,
		DiscoveryTimeout: time.Duration(c.DiscoveryTimeoutSeconds) * time.Second,
		Binaries:         c.Binaries,
		RunnerOptions:    c.Runners,
		Plugins:          plugins,
		Log:              log,
	}
}

// Daemon owns every engine component.
type Daemon struct {
	cfg Config
	log zerolog.Logger

	catalog  *catalog.Catalog
	registry *registry.Registry
	life     *lifecycle.Manager
	tracker  *cancel.Tracker
	engine   *dispatch.Engine
	reload   *reload.Coordinator
	store    *settings.Store

	started time.Time
	ready   atomic.Bool

	mu     sync.Mutex
	report plugin.Report
}

// New builds the components. Runners are discovered by Start.
func New(cfg Config) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		log:     cfg.Log,
		started: time.Now(),
	}
	d.catalog = catalog.New(cfg.ModelsDir, nil)
	d.registry = registry.New(cfg.Log)
	d.life = lifecycle.New(lifecycle.Config{
		BudgetMB:      cfg.BudgetMB,
		MarginMB:      cfg.MarginMB,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait,
		LoadAttempts:  cfg.LoadAttempts,
		Models:        d.catalog,
		Publisher:     logPublisher{log: cfg.Log.With().Str("component", "lifecycle").Logger()},
		Log:           cfg.Log,
	})
	d.tracker = cancel.New(cfg.Log)
	d.reload = reload.New(d.registry, d.life, cfg.Log)
	d.store = settings.New(settings.Config{
		Path:     cfg.SettingsPath,
		Runners:  d.registry,
		Reloader: d.reload,
		Log:      cfg.Log,
	})
	d.engine = dispatch.New(dispatch.Config{
		Registry:  d.registry,
		Lifecycle: d.life,
		Tracker:   d.tracker,
		Settings:  d.store,
		Workers:   cfg.Workers,
		Log:       cfg.Log,
	})
	return d
}

func (d *Daemon) env() *runner.Env {
	return &runner.Env{
		Logger:    d.cfg.Log,
		ModelsDir: d.cfg.ModelsDir,
		Binaries:  d.cfg.Binaries,
		Options:   d.cfg.RunnerOptions,
	}
}

// Discover runs plugin discovery without registering anything.
func Discover(ctx context.Context, cfg Config) ([]runner.Runner, plugin.Report) {
	d := &Daemon{cfg: cfg}
	return d.discoverer().Discover(ctx, cfg.Plugins)
}

func (d *Daemon) discoverer() plugin.Discoverer {
	env := d.env()
	host := plugin.ProbeHost(env)
	if d.cfg.Host != nil {
		host = *d.cfg.Host
	}
	return plugin.Discoverer{Env: env, Host: host, Timeout: d.cfg.DiscoveryTimeout, Log: d.cfg.Log}
}

// Start scans models, discovers and registers runners, then applies the
// persisted settings. A bad settings document is logged and the daemon
// starts with empty settings.
func (d *Daemon) Start(ctx context.Context) (plugin.Report, error) {
	if err := d.catalog.Refresh(); err != nil {
		d.log.Warn().Err(err).Str("dir", d.cfg.ModelsDir).Msg("model scan failed")
	}
	runners, rep := d.discoverer().Populate(ctx, d.cfg.Plugins, d.registry)
	for _, r := range runners {
		d.life.Adopt(ctx, r)
	}
	d.mu.Lock()
	d.report = rep
	d.mu.Unlock()

	res, err := d.store.Load(ctx)
	switch {
	case err != nil:
		d.log.Error().Err(err).Str("path", d.store.Path()).Msg("settings not applied")
	case !res.Success():
		d.log.Warn().Err(res.Err).Msg("settings applied with errors")
	}
	d.ready.Store(true)
	d.log.Info().Strs("runners", rep.Registered).Int("skipped", len(rep.Skipped)).Int("models", len(d.catalog.Models())).Msg("daemon ready")
	if len(rep.Registered) == 0 {
		return rep, errors.New("no runner could be instantiated on this host")
	}
	return rep, nil
}

// Watch reloads settings when the document changes on disk.
func (d *Daemon) Watch(ctx context.Context) error { return d.store.Watch(ctx) }

// Report returns the result of the last discovery.
func (d *Daemon) Report() plugin.Report {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.report
}

// Close stops accepting requests, cancels in-flight ones and unloads
// every runner.
func (d *Daemon) Close(ctx context.Context) error {
	d.ready.Store(false)
	return errors.Join(d.engine.Close(ctx), d.life.UnloadAll(ctx))
}

// ListModels rescans the models directory.
func (d *Daemon) ListModels() []types.Model {
	if err := d.catalog.Refresh(); err != nil {
		d.log.Warn().Err(err).Msg("model scan failed")
	}
	return d.catalog.Models()
}

func (d *Daemon) Ready() bool {
	return d.ready.Load() && len(d.registry.Names()) > 0
}

func (d *Daemon) Status() types.StatusResponse {
	st := d.life.Stats()
	now := time.Now()
	resp := types.StatusResponse{
		Runners:        d.life.Status(),
		BudgetMB:       st.BudgetMB,
		UsedMB:         st.UsedMB,
		MarginMB:       st.MarginMB,
		ActiveRequests: d.tracker.ActiveCount(),
		UptimeSeconds:  int64(now.Sub(d.started).Seconds()),
		ServerTimeUnix: now.Unix(),
		EvictionsTotal: st.Evictions,
		LoadsTotal:     st.Loads,
	}
	if last, ok := d.reload.Last(); ok {
		r := last.Response()
		resp.LastReload = &r
	}
	return resp
}

func (d *Daemon) info(r runner.Runner) types.RunnerInfo {
	info := types.RunnerInfo{
		Name:         r.Name(),
		Score:        registry.ScoreOf(r),
		Capabilities: slices.Clone(r.Capabilities()),
		Streaming:    runner.CanStream(r),
		State:        string(lifecycle.StateUnloaded),
	}
	if desc, ok := r.(runner.Described); ok {
		dd := desc.Descriptor()
		info.Vendor, info.Tier = dd.Vendor.String(), dd.Tier.String()
		info.DefaultModel, info.Description = dd.DefaultModel, dd.Description
	}
	if c, ok := d.life.Controller(r.Name()); ok {
		info.State = string(c.State())
		info.LoadedModel = c.LoadedModelID()
	}
	return info
}

// Runners lists every registered runner in routing order.
func (d *Daemon) Runners() []types.RunnerInfo {
	var all []runner.Runner
	for _, n := range d.registry.Names() {
		if r, ok := d.registry.Lookup(n); ok {
			all = append(all, r)
		}
	}
	out := make([]types.RunnerInfo, 0, len(all))
	for _, r := range registry.Ranked(all) {
		out = append(out, d.info(r))
	}
	return out
}

func (d *Daemon) RunnerSchema(name string) (map[string]any, bool) {
	r, ok := d.registry.Lookup(name)
	if !ok {
		return nil, false
	}
	return params.JSONSchema(runner.Schemas(r)), true
}

func (d *Daemon) Capability(c types.Capability) types.CapabilityResponse {
	resp := types.CapabilityResponse{Capability: c, Candidates: []types.RunnerInfo{}}
	if r, ok := d.registry.GetRunner(c); ok {
		resp.Selected = r.Name()
	}
	for _, r := range registry.Ranked(d.registry.GetAllRunners(c)) {
		resp.Candidates = append(resp.Candidates, d.info(r))
	}
	return resp
}

func (d *Daemon) Infer(ctx context.Context, c types.Capability, in types.InferRequest) (string, <-chan types.InferenceResult) {
	req := types.InferenceRequest{
		ID:         in.RequestID,
		SessionID:  in.SessionID,
		Inputs:     in.Inputs,
		Parameters: maps.Clone(in.Parameters),
	}
	s := d.engine.Start(ctx, req, c, in.Runner, in.Stream)
	return s.RequestID, s.C
}

func (d *Daemon) Cancel(requestID string) bool { return d.engine.Cancel(requestID) }

// Settings returns the current settings with sensitive parameters masked.
func (d *Daemon) Settings() types.EngineSettings {
	cur := d.store.Current().Clone()
	for name, values := range cur.RunnerParameters {
		if r, ok := d.registry.Lookup(name); ok {
			cur.RunnerParameters[name] = params.Redact(runner.Schemas(r), values)
		}
	}
	return cur
}

// UpdateSettings validates, persists and applies s. Invalid settings are
// E301 and change nothing.
func (d *Daemon) UpdateSettings(ctx context.Context, s types.EngineSettings) (types.ReloadResponse, error) {
	if err := settings.Validate(s, d.registry); err != nil {
		return types.ReloadResponse{}, types.Wrap(types.CodeInvalidInput, err)
	}
	res, err := d.store.Update(ctx, s)
	if err != nil {
		return types.ReloadResponse{}, err
	}
	return res.Response(), nil
}
