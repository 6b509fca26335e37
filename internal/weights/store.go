// Package weights discovers and serves the safetensors shards of a model
// directory.
package weights

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/tether/internal/safetensors"
	"github.com/samcharles93/tether/internal/tensor"
)

var (
	// ErrNotFound means the directory is missing or holds no weight files.
	ErrNotFound = errors.New("weights: no weight files found")
	// ErrUnreadable wraps file-system and container failures.
	ErrUnreadable = errors.New("weights: unreadable")
	// ErrMissingTensor is returned by lookups for names no shard contains.
	ErrMissingTensor = errors.New("weights: missing tensor")
	// ErrShape is returned when a tensor exists with an unexpected shape.
	ErrShape = errors.New("weights: shape mismatch")
)

// Store is read-only named-tensor access over every shard in a model
// directory. Tensors are materialized at the store's dtype and device.
//
// Shards stay mapped until Close, so the files must not be modified or
// removed while the store is open.
type Store struct {
	dir    string
	dtype  tensor.DType
	device tensor.Device
	files  []*safetensors.File
	index  map[string]*safetensors.File
}

// Open maps every *.safetensors file directly inside dir.
func Open(dir string, dtype tensor.DType, dev tensor.Device) (*Store, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("weights: dtype %s is not a floating point type", dtype)
	}
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:    dir,
		dtype:  dtype,
		device: dev,
		index:  make(map[string]*safetensors.File),
	}
	for _, p := range paths {
		f, err := safetensors.Open(p)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		s.files = append(s.files, f)
		for name := range f.Tensors {
			if prev, dup := s.index[name]; dup {
				_ = s.Close()
				return nil, fmt.Errorf("%w: tensor %q appears in both %s and %s",
					ErrUnreadable, name, filepath.Base(prev.Path), filepath.Base(p))
			}
			s.index[name] = f
		}
	}
	return s, nil
}

// Discover lists the weight files of dir in name order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), safetensors.Ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s files", ErrNotFound, dir, safetensors.Ext)
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *Store) Dir() string           { return s.dir }
func (s *Store) DType() tensor.DType   { return s.dtype }
func (s *Store) Device() tensor.Device { return s.device }

// Files returns the shard paths in load order.
func (s *Store) Files() []string {
	out := make([]string, len(s.files))
	for i, f := range s.files {
		out[i] = f.Path
	}
	return out
}

// Has reports whether any shard holds name.
func (s *Store) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns every tensor name, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.index))
	for name := range s.index {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Shape returns the stored shape of name without reading its data.
func (s *Store) Shape(name string) ([]int, bool) {
	f, ok := s.index[name]
	if !ok {
		return nil, false
	}
	info, _ := f.Tensor(name)
	return slices.Clone(info.Shape), true
}

// Tensor materializes name at the store's dtype and device.
func (s *Store) Tensor(name string) (*tensor.Tensor, error) {
	f, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}
	data, info, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return tensor.FromFloat32(data, info.Shape, s.dtype, s.device)
}

// Close unmaps every shard. The store must not be used afterwards.
func (s *Store) Close() error {
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	s.index = nil
	return errors.Join(errs...)
}
