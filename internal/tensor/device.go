package tensor

import (
	"fmt"
	"strings"
)

// Device kinds understood by the runtime. Whether a kind can actually be used
// depends on the build; see package backend.
const (
	CPU   = "cpu"
	CUDA  = "cuda"
	Metal = "metal"
)

// Device names a placement for tensor storage.
type Device struct {
	Kind string `json:"kind" yaml:"kind"`
	ID   int    `json:"id" yaml:"id"`
}

// HostDevice is the default placement.
var HostDevice = Device{Kind: CPU}

// ParseDevice normalizes a host supplied device type. "gpu" is accepted for
// cuda and "mps" for metal.
func ParseDevice(kind string, id int) (Device, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	switch k {
	case "", CPU:
		return Device{Kind: CPU}, nil
	case CUDA, "gpu":
		k = CUDA
	case Metal, "mps":
		k = Metal
	default:
		return Device{}, fmt.Errorf("unknown device type %q (expected cpu, cuda, or metal)", kind)
	}
	if id < 0 {
		return Device{}, fmt.Errorf("invalid device id %d", id)
	}
	return Device{Kind: k, ID: id}, nil
}

func (d Device) String() string {
	if d.Kind == CPU || d.Kind == "" {
		return CPU
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.ID)
}
