// Package handle keeps native objects behind opaque integer handles so they
// can cross a foreign-function or network boundary.
package handle

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"sync"
)

// Handle names a registry slot. Valid handles are positive and never reused.
type Handle int64

func (h Handle) String() string { return strconv.FormatInt(int64(h), 10) }

var (
	// ErrHandle matches every handle misuse.
	ErrHandle = errors.New("handle")
	// ErrUnknownHandle is a value the registry never issued, including zero
	// and negative values.
	ErrUnknownHandle = fmt.Errorf("%w: unknown", ErrHandle)
	// ErrUseAfterFree is a handle that was issued and has been destroyed.
	ErrUseAfterFree = fmt.Errorf("%w: use after free", ErrHandle)
	// ErrTypeMismatch is a live handle holding a different type.
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrHandle)
)

// Error describes a failed registry operation.
type Error struct {
	Op     string
	Handle Handle
	Want   string
	Got    string
	Err    error
}

func (e *Error) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("%s %d: %v (want %s, have %s)", e.Op, e.Handle, e.Err, e.Want, e.Got)
	}
	return fmt.Sprintf("%s %d: %v", e.Op, e.Handle, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry owns the objects behind handles. It is safe for concurrent use.
// Slot contents are shared read-only with every borrower.
type Registry struct {
	mu     sync.RWMutex
	slots  map[Handle]any
	issued Handle
}

// Default is the process-wide registry used by the boundary.
var Default = New()

func New() *Registry {
	return &Registry{slots: make(map[Handle]any)}
}

// Create stores v and returns a new handle for it.
func Create[T any](r *Registry, v T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	r.slots[r.issued] = v
	return r.issued
}

// Borrow returns the value behind h if it is live and holds a T.
func Borrow[T any](r *Registry, h Handle) (T, error) {
	var zero T
	r.mu.RLock()
	v, err := r.lookup(h)
	r.mu.RUnlock()
	if err != nil {
		return zero, &Error{Op: "borrow", Handle: h, Err: err}
	}
	t, ok := v.(T)
	if !ok {
		return zero, mismatch[T]("borrow", h, v)
	}
	return t, nil
}

// Destroy frees h if it is live and holds a T. Values implementing
// io.Closer are closed after the slot is freed; the close error is returned
// but the handle is gone either way.
func Destroy[T any](r *Registry, h Handle) error {
	r.mu.Lock()
	v, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return &Error{Op: "destroy", Handle: h, Err: err}
	}
	if _, ok := v.(T); !ok {
		r.mu.Unlock()
		return mismatch[T]("destroy", h, v)
	}
	delete(r.slots, h)
	r.mu.Unlock()

	if c, ok := v.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Kind returns the Go type stored behind h.
func (r *Registry) Kind(h Handle) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.lookup(h)
	if err != nil {
		return "", &Error{Op: "kind", Handle: h, Err: err}
	}
	return fmt.Sprintf("%T", v), nil
}

// lookup must be called with mu held.
func (r *Registry) lookup(h Handle) (any, error) {
	if v, ok := r.slots[h]; ok {
		return v, nil
	}
	if h > 0 && h <= r.issued {
		return nil, ErrUseAfterFree
	}
	return nil, ErrUnknownHandle
}

func mismatch[T any](op string, h Handle, got any) error {
	return &Error{
		Op:     op,
		Handle: h,
		Want:   reflect.TypeFor[T]().String(),
		Got:    fmt.Sprintf("%T", got),
		Err:    ErrTypeMismatch,
	}
}
