package types

import (
	"fmt"
	"strings"
)

// Capability identifies a category of inference work.
type Capability int

const (
	CapabilityLLM Capability = iota
	CapabilityASR
	CapabilityTTS
	CapabilityVLM
	CapabilityGuardian
)

// Capabilities lists every capability in declaration order.
var Capabilities = []Capability{
	CapabilityLLM,
	CapabilityASR,
	CapabilityTTS,
	CapabilityVLM,
	CapabilityGuardian,
}

var capabilityNames = [...]string{"LLM", "ASR", "TTS", "VLM", "GUARDIAN"}

func (c Capability) String() string {
	if c < 0 || int(c) >= len(capabilityNames) {
		return fmt.Sprintf("Capability(%d)", int(c))
	}
	return capabilityNames[c]
}

// Valid reports whether c is one of the declared capabilities.
func (c Capability) Valid() bool { return c >= 0 && int(c) < len(capabilityNames) }

// ParseCapability accepts the upper-case name or common lower-case aliases.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LLM", "CHAT":
		return CapabilityLLM, nil
	case "ASR", "STT":
		return CapabilityASR, nil
	case "TTS":
		return CapabilityTTS, nil
	case "VLM", "VISION":
		return CapabilityVLM, nil
	case "GUARDIAN", "SAFETY":
		return CapabilityGuardian, nil
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

func (c Capability) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid capability %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(b []byte) error {
	v, err := ParseCapability(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
