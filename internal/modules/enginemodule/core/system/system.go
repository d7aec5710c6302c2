// Package system detects host capabilities once per process.
package system

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info describes the host.
type Info struct {
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
	CPUModel     string   `json:"cpu_model"`
	PhysicalCPUs int      `json:"physical_cpus"`
	LogicalCPUs  int      `json:"logical_cpus"`
	Features     []string `json:"features"`
	MemoryTotal  uint64   `json:"memory_total"`
	MemoryFree   uint64   `json:"memory_free"`
}

// interesting lists the SIMD flags the pipeline cares about.
var interesting = map[string]bool{
	"sse2": true, "sse3": true, "ssse3": true, "sse4_1": true, "sse4_2": true,
	"avx": true, "avx2": true, "avx512f": true, "fma": true,
	"neon": true, "asimd": true, "sve": true,
}

// Detect queries the host. Individual probe failures are logged and leave
// the corresponding fields at their runtime-derived defaults.
func Detect(ctx context.Context, logger hclog.Logger) Info {
	info := Info{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
	}

	if stats, err := cpu.InfoWithContext(ctx); err != nil {
		logger.Debug("cpu info unavailable", "error", err)
	} else if len(stats) > 0 {
		info.CPUModel = strings.TrimSpace(stats[0].ModelName)
		info.Features = features(stats[0].Flags)
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		info.PhysicalCPUs = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		logger.Debug("memory info unavailable", "error", err)
	} else {
		info.MemoryTotal = vm.Total
		info.MemoryFree = vm.Available
	}
	if info.PhysicalCPUs == 0 {
		info.PhysicalCPUs = info.LogicalCPUs
	}
	return info
}

func features(flags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range flags {
		f = strings.ToLower(f)
		if interesting[f] && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Has reports whether the CPU advertises feature.
func (i Info) Has(feature string) bool {
	feature = strings.ToLower(feature)
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Workers suggests a worker count for CPU-bound stages.
func (i Info) Workers() int {
	if i.LogicalCPUs > 1 {
		return i.LogicalCPUs
	}
	return 1
}
