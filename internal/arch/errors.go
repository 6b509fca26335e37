package arch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedArchitecture is returned when model_type is absent or names
	// a family this runtime does not implement.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	// ErrMalformed matches every *MalformedError.
	ErrMalformed = errors.New("malformed config")
)

// MalformedError reports a missing or invalid field for the matched family.
type MalformedError struct {
	Family Family
	Field  string
	Err    error
}

func (e *MalformedError) Error() string {
	prefix := "malformed config"
	if e.Family != "" {
		prefix = fmt.Sprintf("malformed %s config", e.Family)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: field %q", prefix, e.Field)
	}
	return fmt.Sprintf("%s: field %q: %v", prefix, e.Field, e.Err)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func (e *MalformedError) Unwrap() error { return e.Err }

var errMissing = errors.New("required field is missing")

func malformed(family Family, field string, format string, args ...any) error {
	return &MalformedError{Family: family, Field: field, Err: fmt.Errorf(format, args...)}
}
