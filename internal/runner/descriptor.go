package runner

import (
	"fmt"
	"strings"

	"inferd/pkg/types"
)

// Vendor groups runners coarsely. Declaration order is routing priority.
type Vendor int

const (
	VendorMediaTek Vendor = iota
	VendorSherpa
	VendorLlamaCpp
	VendorOllama
	VendorUnknown
)

var vendorNames = [...]string{"MEDIATEK", "SHERPA", "LLAMA_CPP", "OLLAMA", "UNKNOWN"}

func (v Vendor) String() string {
	if v < 0 || int(v) >= len(vendorNames) {
		return fmt.Sprintf("Vendor(%d)", int(v))
	}
	return vendorNames[v]
}

// Tier ranks runners within a vendor. Declaration order is routing priority.
type Tier int

const (
	TierHigh Tier = iota
	TierNormal
	TierLow
)

var tierNames = [...]string{"HIGH", "NORMAL", "LOW"}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// Requirements are host conditions a runner needs to be usable.
type Requirements struct {
	OS           []string // GOOS values; empty means any
	Arch         []string // GOARCH values; empty means any
	MinCPUs      int
	MinMemoryMB  int
	Accelerators []string // e.g. "cuda", "npu"
	Binaries     []string // executables that must resolve
	Features     []string // build features, e.g. "llama"
}

// Descriptor is the static metadata of a runner implementation.
type Descriptor struct {
	Name         string
	Vendor       Vendor
	Tier         Tier
	Capabilities []types.Capability
	Requirements Requirements
	DefaultModel string
	Description  string
}

// Validate checks the structural invariants of d.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor has empty name")
	}
	return ValidateCapabilities(d.Capabilities)
}

// ValidateCapabilities requires a non-empty, duplicate-free set of known capabilities.
func ValidateCapabilities(caps []types.Capability) error {
	if len(caps) == 0 {
		return fmt.Errorf("no capabilities declared")
	}
	seen := make(map[types.Capability]struct{}, len(caps))
	for _, c := range caps {
		if !c.Valid() {
			return fmt.Errorf("unknown capability %d", int(c))
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("capability %s declared twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
