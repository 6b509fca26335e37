package model

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tether/internal/arch"
)

var (
	// ErrUnsupportedDevice is returned when the requested device kind is not
	// compiled into this build.
	ErrUnsupportedDevice = errors.New("unsupported device")
	// ErrConstruction matches every *ConstructionError.
	ErrConstruction = errors.New("model construction failed")
	// ErrInvalidInput is returned by Forward for inputs of the wrong shape,
	// dtype or range.
	ErrInvalidInput = errors.New("invalid model input")
)

// ConstructionError reports a variant that could not be built from the
// weight store, typically a missing tensor or an unexpected shape.
type ConstructionError struct {
	Family  arch.Family
	Variant string
	Err     error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build %s (%s): %v", e.Variant, e.Family, e.Err)
}

func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }

func (e *ConstructionError) Unwrap() error { return e.Err }
