// Package bridge implements the boundary operations hosts call: loading and
// deleting models, listing their inputs, running inference and moving
// tensors in and out. Every native object is reached through a handle.
package bridge

import (
	"github.com/google/uuid"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/logger"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/tensor"
)

// Config configures a Runtime. Zero fields take defaults.
type Config struct {
	// Registry defaults to handle.Default.
	Registry *handle.Registry
	// Logger defaults to logger.Default().
	Logger logger.Logger
	// Features defaults to backend.Detect(), read once in New.
	Features *backend.Features
	// Threads bounds attention goroutines per forward pass.
	Threads int
}

// Runtime serves boundary calls. It is safe for concurrent use; all shared
// state lives in the handle registry.
type Runtime struct {
	reg      *handle.Registry
	log      logger.Logger
	features backend.Features
	threads  int
}

func New(cfg Config) *Runtime {
	r := &Runtime{
		reg:     cfg.Registry,
		log:     cfg.Logger,
		threads: cfg.Threads,
	}
	if r.reg == nil {
		r.reg = handle.Default
	}
	if r.log == nil {
		r.log = logger.Default()
	}
	if cfg.Features != nil {
		r.features = *cfg.Features
	} else {
		r.features = backend.Detect()
	}
	return r
}

// Features returns the capabilities loads are resolved against.
func (r *Runtime) Features() backend.Features { return r.features }

// Registry returns the registry backing r.
func (r *Runtime) Registry() *handle.Registry { return r.reg }

// Loaded is the registry payload of a model handle.
type Loaded struct {
	model.Model

	ID     uuid.UUID
	Path   string
	Family arch.Family
	DType  tensor.DType
	Device tensor.Device
	Flash  bool
}

// misuse logs a registry failure loudly; handle misuse is a caller bug.
func (r *Runtime) misuse(op string, h handle.Handle, err error) {
	r.log.Error("handle misuse", "op", op, "handle", int64(h), "error", err)
}
