package weights

import (
	"fmt"
	"slices"
)

// Scope is a prefixed view of a Store, mirroring the dotted module paths of
// Hugging Face checkpoints ("encoder.layer.0.attention.self.query").
type Scope struct {
	store  *Store
	prefix string
}

// Root returns an unprefixed scope.
func (s *Store) Root() Scope { return Scope{store: s} }

// Sub descends into a child module.
func (sc Scope) Sub(name string) Scope {
	return Scope{store: sc.store, prefix: sc.path(name)}
}

// Subf is Sub with formatting, for indexed children such as layers.
func (sc Scope) Subf(format string, args ...any) Scope {
	return sc.Sub(fmt.Sprintf(format, args...))
}

// Prefix returns the dotted path of the scope.
func (sc Scope) Prefix() string { return sc.prefix }

func (sc Scope) Has(name string) bool { return sc.store.Has(sc.path(name)) }

// Float32s loads name and checks it has exactly shape.
func (sc Scope) Float32s(name string, shape ...int) ([]float32, error) {
	full := sc.path(name)
	got, ok := sc.store.Shape(full)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, full)
	}
	if !slices.Equal(got, shape) {
		return nil, fmt.Errorf("%w: %s has shape %v, expected %v", ErrShape, full, got, shape)
	}
	t, err := sc.store.Tensor(full)
	if err != nil {
		return nil, err
	}
	return t.Float32s(), nil
}

// Optional is Float32s that returns nil, nil when name is absent.
func (sc Scope) Optional(name string, shape ...int) ([]float32, error) {
	if !sc.Has(name) {
		return nil, nil
	}
	return sc.Float32s(name, shape...)
}

// First returns the name of the first candidate present in the scope.
func (sc Scope) First(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if sc.Has(c) {
			return c, true
		}
	}
	return "", false
}

func (sc Scope) path(name string) string {
	if sc.prefix == "" {
		return name
	}
	if name == "" {
		return sc.prefix
	}
	return sc.prefix + "." + name
}
