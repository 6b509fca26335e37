package bridge

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/model"
	"github.com/samcharles93/tether/internal/weights"
)

var (
	// ErrMissingRequiredInput is returned by Infer for fewer than two inputs.
	ErrMissingRequiredInput = errors.New("missing required input")
	// ErrTooManyInputs is returned by Infer for more than three inputs.
	ErrTooManyInputs = errors.New("too many inputs")
	// ErrInvalidHandle matches every *InvalidHandleError.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrComputation matches every *ComputationError.
	ErrComputation = errors.New("computation failed")
	// ErrInvalidArgument covers malformed boundary arguments such as an
	// unknown dtype code or a buffer that does not match its shape.
	ErrInvalidArgument = errors.New("invalid argument")
)

// InvalidHandleError is an inference input that could not be resolved.
// It matches both ErrInvalidHandle and the registry error it wraps.
type InvalidHandleError struct {
	Role string
	Err  error
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInvalidHandle, e.Role, e.Err)
}

func (e *InvalidHandleError) Unwrap() []error { return []error{ErrInvalidHandle, e.Err} }

// ComputationError is a failed forward pass.
type ComputationError struct {
	Variant string
	Err     error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrComputation, e.Variant, e.Err)
}

func (e *ComputationError) Unwrap() []error { return []error{ErrComputation, e.Err} }

// Kind is the boundary error category.
type Kind string

const (
	KindConfig   Kind = "config"
	KindIO       Kind = "io"
	KindBuild    Kind = "build"
	KindHandle   Kind = "handle"
	KindInfer    Kind = "infer"
	KindArgument Kind = "argument"
	KindInternal Kind = "internal"
)

// Classify maps an error returned by Runtime to its category. Inference
// errors are checked before handle errors since an invalid inference input
// matches both.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingRequiredInput), errors.Is(err, ErrTooManyInputs),
		errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrComputation):
		return KindInfer
	case errors.Is(err, handle.ErrHandle):
		return KindHandle
	case errors.Is(err, arch.ErrUnsupportedArchitecture), errors.Is(err, arch.ErrMalformed):
		return KindConfig
	case errors.Is(err, weights.ErrNotFound), errors.Is(err, weights.ErrUnreadable):
		return KindIO
	case errors.Is(err, model.ErrUnsupportedDevice), errors.Is(err, model.ErrConstruction):
		return KindBuild
	case errors.Is(err, ErrInvalidArgument):
		return KindArgument
	}
	return KindInternal
}
