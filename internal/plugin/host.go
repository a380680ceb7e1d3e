package plugin

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"inferd/internal/runner"
)

// Host describes what the current machine offers.
type Host struct {
	OS           string
	Arch         string
	CPUs         int
	MemoryMB     int // 0 when unknown
	Accelerators []string
	Features     []string
	// LookPath resolves binaries; Binaries overrides it per name.
	LookPath func(string) (string, error)
	Binaries map[string]string
}

// ProbeHost inspects the running machine.
func ProbeHost(env *runner.Env) Host {
	h := Host{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
		MemoryMB: readMemTotalMB("/proc/meminfo"),
		Features: slices.Clone(buildFeatures),
		LookPath: exec.LookPath,
	}
	if env != nil {
		h.Binaries = env.Binaries
	}
	h.Accelerators = probeAccelerators(h)
	return h
}

// readMemTotalMB parses MemTotal from a meminfo file; 0 on any failure.
func readMemTotalMB(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0
			}
			return kb / 1024
		}
	}
	return 0
}

func probeAccelerators(h Host) []string {
	var acc []string
	if h.resolve("nvidia-smi") || exists("/dev/nvidia0") {
		acc = append(acc, "cuda")
	}
	if exists("/dev/kfd") {
		acc = append(acc, "rocm")
	}
	if exists("/dev/apusys") || exists("/dev/accel/accel0") {
		acc = append(acc, "npu")
	}
	if h.OS == "darwin" && h.Arch == "arm64" {
		acc = append(acc, "metal")
	}
	return acc
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (h Host) resolve(bin string) bool {
	if p := h.Binaries[bin]; p != "" {
		return exists(p)
	}
	if h.LookPath == nil {
		return false
	}
	_, err := h.LookPath(bin)
	return err == nil
}

// Check returns the first requirement h cannot satisfy, or nil.
func (h Host) Check(req runner.Requirements) error {
	if len(req.OS) > 0 && !slices.Contains(req.OS, h.OS) {
		return fmt.Errorf("os %s not in %v", h.OS, req.OS)
	}
	if len(req.Arch) > 0 && !slices.Contains(req.Arch, h.Arch) {
		return fmt.Errorf("arch %s not in %v", h.Arch, req.Arch)
	}
	if req.MinCPUs > 0 && h.CPUs < req.MinCPUs {
		return fmt.Errorf("needs %d cpus, host has %d", req.MinCPUs, h.CPUs)
	}
	if req.MinMemoryMB > 0 && h.MemoryMB > 0 && h.MemoryMB < req.MinMemoryMB {
		return fmt.Errorf("needs %dMB memory, host has %dMB", req.MinMemoryMB, h.MemoryMB)
	}
	for _, a := range req.Accelerators {
		if !slices.Contains(h.Accelerators, a) {
			return fmt.Errorf("accelerator %s not present", a)
		}
	}
	for _, f := range req.Features {
		if !slices.Contains(h.Features, f) {
			return fmt.Errorf("build feature %s not compiled in", f)
		}
	}
	for _, b := range req.Binaries {
		if !h.resolve(b) {
			return fmt.Errorf("binary %s not found", b)
		}
	}
	return nil
}
