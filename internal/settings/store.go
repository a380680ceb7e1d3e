package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"inferd/internal/common/fsutil"
	"inferd/internal/reload"
	"inferd/pkg/types"
)

const defaultDebounce = 250 * time.Millisecond

// Reloader applies the difference between two settings snapshots.
type Reloader interface {
	HandleSettingsChange(ctx context.Context, old, next types.EngineSettings) reload.Result
}

// Config wires a Store.
type Config struct {
	// Path of the settings document. Empty keeps settings in memory only.
	Path     string
	Runners  Lookup
	Reloader Reloader
	// Debounce collapses bursts of file events into one reload.
	Debounce time.Duration
	Log      zerolog.Logger
}

// Store holds the current settings snapshot. Every accepted change is
// persisted before it is published and handed to the Reloader.
type Store struct {
	cfg Config
	log zerolog.Logger
	cur atomic.Pointer[types.EngineSettings]

	mu      sync.Mutex // orders changes
	written []byte
}

// New returns a Store holding empty settings.
func New(cfg Config) *Store {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	s := &Store{cfg: cfg, log: cfg.Log.With().Str("component", "settings").Logger()}
	empty := types.EngineSettings{}.Clone()
	s.cur.Store(&empty)
	return s
}

// Current returns the current snapshot. Callers must not modify its maps.
func (s *Store) Current() types.EngineSettings { return *s.cur.Load() }

// Path returns the document path.
func (s *Store) Path() string { return s.cfg.Path }

// Load reads the document from disk and applies it. A missing file is
// empty settings.
func (s *Store) Load(ctx context.Context) (reload.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, data, err := s.read()
	if err != nil {
		return reload.Result{}, err
	}
	s.written = data
	return s.apply(ctx, next), nil
}

// Update validates next, persists it and applies it.
func (s *Store) Update(ctx context.Context, next types.EngineSettings) (reload.Result, error) {
	next = next.Clone()
	if err := s.validate(next); err != nil {
		return reload.Result{}, err
	}
	data, err := Encode(next)
	if err != nil {
		return reload.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return reload.Result{}, fmt.Errorf("create settings dir: %w", err)
		}
		if err := fsutil.WriteFileAtomic(s.cfg.Path, data, 0o644); err != nil {
			return reload.Result{}, fmt.Errorf("write settings: %w", err)
		}
		s.written = data
	}
	s.log.Info().Str("path", s.cfg.Path).Msg("settings saved")
	return s.apply(ctx, next), nil
}

func (s *Store) validate(next types.EngineSettings) error {
	if s.cfg.Runners == nil {
		return nil
	}
	return Validate(next, s.cfg.Runners)
}

// read parses and validates the document on disk.
func (s *Store) read() (types.EngineSettings, []byte, error) {
	if s.cfg.Path == "" {
		return s.Current(), nil, nil
	}
	data, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.EngineSettings{}.Clone(), nil, nil
	}
	if err != nil {
		return types.EngineSettings{}, nil, fmt.Errorf("read settings: %w", err)
	}
	next, err := Parse(data, FormatOf(s.cfg.Path))
	if err != nil {
		return types.EngineSettings{}, nil, err
	}
	if err := s.validate(next); err != nil {
		return types.EngineSettings{}, nil, err
	}
	return next, data, nil
}

// apply publishes next and reloads. Callers hold s.mu.
func (s *Store) apply(ctx context.Context, next types.EngineSettings) reload.Result {
	old := *s.cur.Swap(&next)
	if s.cfg.Reloader == nil {
		return reload.Result{Changes: reload.Diff(old, next)}
	}
	return s.cfg.Reloader.HandleSettingsChange(ctx, old, next)
}

// Watch reloads the document whenever it changes on disk until ctx ends.
// Invalid documents are logged and ignored; the current settings stay.
func (s *Store) Watch(ctx context.Context) error {
	if s.cfg.Path == "" {
		return errors.New("settings: no path to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()
	// editors replace files, so watch the directory
	dir := filepath.Dir(s.cfg.Path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.cfg.Path)
	s.log.Info().Str("path", target).Msg("watching settings")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.cfg.Debounce, func() { s.reloadFromDisk(ctx) })
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (s *Store) reloadFromDisk(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn().Err(err).Msg("read settings")
		return
	}
	if bytes.Equal(data, s.written) {
		return
	}
	next, data, err := s.read()
	if err != nil {
		s.log.Warn().Err(err).Msg("settings change rejected")
		return
	}
	s.written = data
	res := s.apply(ctx, next)
	s.log.Info().Int("changes", len(res.Changes)).Bool("success", res.Success()).Msg("settings reloaded")
}
