// Package runners holds the compiled-in plugin table.
package runners

import (
	"inferd/internal/plugin"
	"inferd/internal/runners/guard"
	"inferd/internal/runners/llamacpp"
	"inferd/internal/runners/llamaserver"
	"inferd/internal/runners/ollama"
)

// Plugins returns every built-in runner in table order. Order only breaks
// score ties.
func Plugins() []plugin.Plugin {
	return []plugin.Plugin{
		{Descriptor: llamacpp.Descriptor(), New: llamacpp.FromEnv},
		{Descriptor: llamaserver.Descriptor(), New: llamaserver.FromEnv},
		{Descriptor: ollama.Descriptor(), New: ollama.FromEnv},
		{Descriptor: guard.Descriptor(), New: guard.FromEnv},
	}
}
