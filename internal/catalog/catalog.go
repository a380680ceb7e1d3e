// Package catalog lists model files available on disk.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// DefaultExtensions are the model file formats recognized by Scan.
var DefaultExtensions = []string{".gguf", ".onnx", ".bin", ".tflite", ".litertlm"}

// Scan lists files in dir with one of exts (case-insensitive). The model ID
// is the full file name. Subdirectories are not descended.
func Scan(dir string, exts []string) ([]types.Model, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !slices.Contains(exts, ext) {
			continue
		}
		m := types.Model{
			ID:     name,
			Name:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path:   filepath.Join(abs, name),
			Format: strings.TrimPrefix(ext, "."),
			SizeMB: 1,
		}
		if info, err := e.Info(); err == nil {
			if mb := int(info.Size() / (1024 * 1024)); mb > 0 {
				m.SizeMB = mb
			}
		}
		models = append(models, m)
	}
	return models, nil
}

// Catalog is a refreshable in-memory view of a models directory.
type Catalog struct {
	dir  string
	exts []string

	mu     sync.RWMutex
	models []types.Model
}

// New returns an empty catalog over dir. Call Refresh to populate it.
func New(dir string, exts []string) *Catalog {
	return &Catalog{dir: dir, exts: exts}
}

// Refresh rescans the directory. An empty dir yields an empty catalog.
func (c *Catalog) Refresh() error {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return nil
	}
	models, err := Scan(c.dir, c.exts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	return nil
}

// Models returns a copy of the current model list.
func (c *Catalog) Models() []types.Model {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.models)
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (types.Model, bool) {
	if c == nil {
		return types.Model{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

// Resolve maps a model id to a path. Ids that are absolute paths pass
// through; unknown ids resolve to "" so server-side backends can use the
// id verbatim.
func (c *Catalog) Resolve(id string) string {
	if filepath.IsAbs(id) {
		return id
	}
	if m, ok := c.Lookup(id); ok {
		return m.Path
	}
	return ""
}

// EstimateMB estimates the memory footprint of a model from its file size.
// Unknown models count as 1MB so budget checks are never bypassed.
func (c *Catalog) EstimateMB(id string) int {
	if m, ok := c.Lookup(id); ok && m.SizeMB > 0 {
		return m.SizeMB
	}
	if filepath.IsAbs(id) {
		if fi, err := os.Stat(id); err == nil {
			if mb := int(fi.Size() / (1024 * 1024)); mb > 0 {
				return mb
			}
		}
	}
	return 1
}
