// Package plugin validates compiled-in runner implementations and
// instantiates the ones that can run on this host.
package plugin

import (
	"inferd/internal/runner"
)

// Plugin is one entry of the compiled-in runner table. At least one of New
// and NewBare must be set; New is preferred.
type Plugin struct {
	Descriptor runner.Descriptor
	New        func(env *runner.Env) (runner.Runner, error)
	NewBare    func() (runner.Runner, error)
}

// Skip records why a candidate was not instantiated.
type Skip struct {
	Name   string `json:"name"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Report summarizes a discovery pass. Registered is in table order.
type Report struct {
	Registered []string `json:"registered"`
	Skipped    []Skip   `json:"skipped"`
}

const (
	stageStructure    = "structure"
	stageRequirements = "requirements"
	stageConstruct    = "construct"
	stageRegister     = "register"
)
