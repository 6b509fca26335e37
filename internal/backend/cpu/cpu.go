// Package cpu reports the host CPU's vector extensions. Host kernels run
// through gonum's blas32, whose assembly paths depend on these.
package cpu

import (
	"maps"
	"runtime"
	"slices"

	"golang.org/x/sys/cpu"
)

type Info struct {
	GoOS     string          `json:"go_os"`
	GoArch   string          `json:"go_arch"`
	CPUs     int             `json:"cpus"`
	Features map[string]bool `json:"features"`
}

// Detect reads the feature bits of the running machine. Only the table for
// GOARCH is filled.
func Detect() Info {
	info := Info{
		GoOS:     runtime.GOOS,
		GoArch:   runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
		Features: map[string]bool{},
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		info.Features = map[string]bool{
			"AVX":      cpu.X86.HasAVX,
			"AVX2":     cpu.X86.HasAVX2,
			"FMA":      cpu.X86.HasFMA,
			"POPCNT":   cpu.X86.HasPOPCNT,
			"AVX512F":  cpu.X86.HasAVX512F,
			"AVX512BW": cpu.X86.HasAVX512BW,
			"AVX512VL": cpu.X86.HasAVX512VL,
			"AVXVNNI":  cpu.X86.HasAVXVNNI,
			"SSE41":    cpu.X86.HasSSE41,
			"SSE42":    cpu.X86.HasSSE42,
		}
	case "arm64":
		info.Features = map[string]bool{
			"ASIMD":    cpu.ARM64.HasASIMD,
			"FPHP":     cpu.ARM64.HasFPHP,
			"ASIMDHP":  cpu.ARM64.HasASIMDHP,
			"ASIMDDP":  cpu.ARM64.HasASIMDDP,
			"SVE":      cpu.ARM64.HasSVE,
			"ASIMDFHM": cpu.ARM64.HasASIMDFHM,
		}
	}
	return info
}

// Enabled lists the present features, sorted.
func (i Info) Enabled() []string {
	var out []string
	for _, name := range slices.Sorted(maps.Keys(i.Features)) {
		if i.Features[name] {
			out = append(out, name)
		}
	}
	return out
}
