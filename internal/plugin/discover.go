package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"inferd/internal/params"
	"inferd/internal/runner"
)

const (
	defaultTimeout = 10 * time.Second
	defaultWorkers = 4

	lateUnloadTimeout = 30 * time.Second
)

// Registrar receives instantiated runners.
type Registrar interface {
	Register(r runner.Runner) error
}

// Discoverer validates and instantiates plugins. The zero value is usable.
type Discoverer struct {
	Env  *runner.Env
	Host Host
	// Timeout bounds each constructor call.
	Timeout time.Duration
	Workers int
	Log     zerolog.Logger
}

// built is what a constructor returned.
type built struct {
	r   runner.Runner
	err error
}

type outcome struct {
	r    runner.Runner
	skip *Skip
}

// Discover validates every plugin and instantiates the eligible ones
// concurrently. The returned runners keep table order. A broken plugin is
// skipped and reported, never fatal.
func (d Discoverer) Discover(ctx context.Context, plugins []Plugin) ([]runner.Runner, Report) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	workers := d.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	results := make([]outcome, len(plugins))
	p := pool.New().WithMaxGoroutines(workers)
	for i, pl := range plugins {
		if err := d.checkStatic(pl); err != nil {
			results[i] = outcome{skip: err}
			continue
		}
		p.Go(func() {
			r, err := d.instantiate(ctx, pl, timeout)
			if err != nil {
				results[i] = outcome{skip: &Skip{Name: pl.Descriptor.Name, Stage: stageConstruct, Reason: err.Error()}}
				return
			}
			if err := checkInstance(pl.Descriptor, r); err != nil {
				results[i] = outcome{skip: &Skip{Name: pl.Descriptor.Name, Stage: stageStructure, Reason: err.Error()}}
				return
			}
			results[i] = outcome{r: r}
		})
	}
	p.Wait()

	var out []runner.Runner
	var rep Report
	for _, o := range results {
		if o.skip != nil {
			rep.Skipped = append(rep.Skipped, *o.skip)
			d.Log.Warn().Str("runner", o.skip.Name).Str("stage", o.skip.Stage).Str("reason", o.skip.Reason).Msg("plugin skipped")
			continue
		}
		out = append(out, o.r)
		rep.Registered = append(rep.Registered, o.r.Name())
	}
	return out, rep
}

// Populate discovers plugins and registers the survivors in table order.
func (d Discoverer) Populate(ctx context.Context, plugins []Plugin, reg Registrar) ([]runner.Runner, Report) {
	runners, rep := d.Discover(ctx, plugins)
	kept := runners[:0]
	registered := rep.Registered[:0]
	for _, r := range runners {
		if err := reg.Register(r); err != nil {
			rep.Skipped = append(rep.Skipped, Skip{Name: r.Name(), Stage: stageRegister, Reason: err.Error()})
			d.Log.Warn().Str("runner", r.Name()).Err(err).Msg("plugin not registered")
			continue
		}
		kept = append(kept, r)
		registered = append(registered, r.Name())
		d.Log.Info().Str("runner", r.Name()).Msg("plugin registered")
	}
	rep.Registered = registered
	return kept, rep
}

func (d Discoverer) checkStatic(pl Plugin) *Skip {
	name := pl.Descriptor.Name
	if pl.New == nil && pl.NewBare == nil {
		return &Skip{Name: name, Stage: stageStructure, Reason: "no constructor"}
	}
	if err := pl.Descriptor.Validate(); err != nil {
		return &Skip{Name: name, Stage: stageStructure, Reason: err.Error()}
	}
	if err := d.Host.Check(pl.Descriptor.Requirements); err != nil {
		return &Skip{Name: name, Stage: stageRequirements, Reason: err.Error()}
	}
	return nil
}

// instantiate calls the richest constructor, converting panics to errors
// and giving up after timeout.
func (d Discoverer) instantiate(ctx context.Context, pl Plugin, timeout time.Duration) (runner.Runner, error) {
	done := make(chan built, 1)
	go func() {
		var b built
		var pc panics.Catcher
		pc.Try(func() {
			if pl.New != nil {
				b.r, b.err = pl.New(d.Env)
			} else {
				b.r, b.err = pl.NewBare()
			}
		})
		if rec := pc.Recovered(); rec != nil {
			b.err = fmt.Errorf("constructor panicked: %w", rec.AsError())
		}
		done <- b
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-done:
		if b.err == nil && b.r == nil {
			b.err = errors.New("constructor returned nil runner")
		}
		return b.r, b.err
	case <-t.C:
		go d.releaseLate(pl.Descriptor.Name, done)
		return nil, fmt.Errorf("constructor did not return within %s", timeout)
	case <-ctx.Done():
		go d.releaseLate(pl.Descriptor.Name, done)
		return nil, ctx.Err()
	}
}

// releaseLate waits for an abandoned constructor and unloads the runner it
// returns, if any.
func (d Discoverer) releaseLate(name string, done <-chan built) {
	b := <-done
	if b.r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lateUnloadTimeout)
	defer cancel()
	if err := b.r.Unload(ctx); err != nil {
		d.Log.Warn().Str("runner", name).Err(err).Msg("late runner unload failed")
		return
	}
	d.Log.Info().Str("runner", name).Msg("late runner released")
}

func checkInstance(desc runner.Descriptor, r runner.Runner) error {
	if r.Name() != desc.Name {
		return fmt.Errorf("instance name %q does not match descriptor %q", r.Name(), desc.Name)
	}
	if err := runner.ValidateCapabilities(r.Capabilities()); err != nil {
		return err
	}
	for _, c := range r.Capabilities() {
		if !slices.Contains(desc.Capabilities, c) {
			return fmt.Errorf("instance declares %s missing from descriptor", c)
		}
	}
	if c, ok := r.(runner.Configurable); ok {
		if err := params.CheckDeclarations(c.ParameterSchemas()); err != nil {
			return fmt.Errorf("parameter schema: %w", err)
		}
	}
	return nil
}
