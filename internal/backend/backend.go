// Package backend reports which compute devices and optional kernels this
// build was compiled with, and resolves the accelerated-attention policy.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/tether/internal/envconfig"
	"github.com/samcharles93/tether/internal/tensor"
)

const (
	CPU   = tensor.CPU
	CUDA  = tensor.CUDA
	Metal = tensor.Metal
	Auto  = "auto"
)

// Features describes the capabilities a model is constructed against.
type Features struct {
	CUDA      bool `json:"cuda"`
	Metal     bool `json:"metal"`
	FlashAttn bool `json:"flash_attn"`

	// FlashAttentionEnv is the USE_FLASH_ATTENTION opt-out, true unless
	// explicitly disabled.
	FlashAttentionEnv bool `json:"flash_attention_env"`
}

// Compiled returns the build-time capabilities with the environment opt-out
// left enabled.
func Compiled() Features {
	return Features{
		CUDA:              cudaEnabled,
		Metal:             metalEnabled,
		FlashAttn:         flashAttnEnabled,
		FlashAttentionEnv: true,
	}
}

// Detect returns Compiled with the environment applied.
func Detect() Features {
	f := Compiled()
	f.FlashAttentionEnv = envconfig.FlashAttention()
	return f
}

// Has reports whether a device kind can be targeted.
func (f Features) Has(kind string) bool {
	switch kind {
	case CPU:
		return true
	case CUDA:
		return f.CUDA
	case Metal:
		return f.Metal
	}
	return false
}

// Supports reports whether dev can be targeted.
func (f Features) Supports(dev tensor.Device) bool { return f.Has(dev.Kind) }

// FlashAttention is the accelerated-attention decision: the build must carry
// both cuda and flashattn, the model must run in f16, and the environment
// must not opt out.
func (f Features) FlashAttention(dtype tensor.DType) bool {
	return f.CUDA && f.FlashAttn && dtype == tensor.F16 && f.FlashAttentionEnv
}

// Available returns a comma-separated list of targetable devices.
func (f Features) Available() string {
	entries := []string{CPU}
	if f.CUDA {
		entries = append(entries, CUDA)
	}
	if f.Metal {
		entries = append(entries, Metal)
	}
	return strings.Join(entries, ",")
}

// Has reports whether this build can target kind.
func Has(kind string) bool { return Compiled().Has(kind) }

// Available lists the devices this build can target.
func Available() string { return Compiled().Available() }

// Normalize lowercases a device name and resolves aliases. An empty name is
// Auto.
func Normalize(name string) (string, error) {
	kind := strings.ToLower(strings.TrimSpace(name))
	switch kind {
	case "":
		return Auto, nil
	case "gpu":
		return CUDA, nil
	case "mps":
		return Metal, nil
	case CPU, CUDA, Metal, Auto:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, cuda, or metal)", kind)
	}
}

// Resolve turns Auto into the best available device kind.
func (f Features) Resolve(name string) (string, error) {
	kind, err := Normalize(name)
	if err != nil {
		return "", err
	}
	if kind != Auto {
		return kind, nil
	}
	switch {
	case f.CUDA:
		return CUDA, nil
	case f.Metal:
		return Metal, nil
	}
	return CPU, nil
}
