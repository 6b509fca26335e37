// Package nn holds the transformer building blocks shared by every model
// family: projections, normalization, embeddings, attention and rotary
// position encoding. Activations are row-major []float32 buffers.
package nn

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

// ErrIndexOutOfRange is returned when a token or position id falls outside
// an embedding table.
var ErrIndexOutOfRange = errors.New("index out of range")

// Linear is y = x W^T + b with W stored as [Out, In].
type Linear struct {
	Weight []float32
	Bias   []float32
	In     int
	Out    int
}

// LoadLinear reads <scope>.weight and, when present, <scope>.bias.
func LoadLinear(sc weights.Scope, in, out int) (*Linear, error) {
	w, err := sc.Float32s("weight", out, in)
	if err != nil {
		return nil, err
	}
	b, err := sc.Optional("bias", out)
	if err != nil {
		return nil, err
	}
	return &Linear{Weight: w, Bias: b, In: in, Out: out}, nil
}

// Forward projects rows vectors of width In.
func (l *Linear) Forward(x []float32, rows int) []float32 {
	dst := make([]float32, rows*l.Out)
	tensor.MatMulT(dst, x, l.Weight, rows, l.In, l.Out)
	if l.Bias != nil {
		for r := range rows {
			tensor.Add(dst[r*l.Out:(r+1)*l.Out], l.Bias)
		}
	}
	return dst
}

// LayerNorm normalizes each row. Bias is nil for checkpoints that omit it.
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

// LoadLayerNorm accepts both weight/bias and the legacy gamma/beta names.
func LoadLayerNorm(sc weights.Scope, dim int, eps float64) (*LayerNorm, error) {
	wName, ok := sc.First("weight", "gamma")
	if !ok {
		return nil, fmt.Errorf("%w: %s", weights.ErrMissingTensor, scoped(sc, "weight"))
	}
	w, err := sc.Float32s(wName, dim)
	if err != nil {
		return nil, err
	}
	ln := &LayerNorm{Weight: w, Eps: float32(eps)}
	if bName, ok := sc.First("bias", "beta"); ok {
		if ln.Bias, err = sc.Float32s(bName, dim); err != nil {
			return nil, err
		}
	}
	return ln, nil
}

// Forward normalizes x in place.
func (n *LayerNorm) Forward(x []float32) {
	dim := len(n.Weight)
	for off := 0; off+dim <= len(x); off += dim {
		row := x[off : off+dim]
		tensor.LayerNorm(row, row, n.Weight, n.Bias, n.Eps)
	}
}

type RMSNorm struct {
	Weight []float32
	Eps    float32
}

func LoadRMSNorm(sc weights.Scope, dim int, eps float64) (*RMSNorm, error) {
	w, err := sc.Float32s("weight", dim)
	if err != nil {
		return nil, err
	}
	return &RMSNorm{Weight: w, Eps: float32(eps)}, nil
}

// Forward normalizes x in place.
func (n *RMSNorm) Forward(x []float32) {
	dim := len(n.Weight)
	for off := 0; off+dim <= len(x); off += dim {
		row := x[off : off+dim]
		tensor.RMSNorm(row, row, n.Weight, n.Eps)
	}
}

// Embedding is a lookup table of Rows vectors of width Dim.
type Embedding struct {
	Table []float32
	Rows  int
	Dim   int
}

func LoadEmbedding(sc weights.Scope, rows, dim int) (*Embedding, error) {
	t, err := sc.Float32s("weight", rows, dim)
	if err != nil {
		return nil, err
	}
	return &Embedding{Table: t, Rows: rows, Dim: dim}, nil
}

// Row returns the vector for id without copying.
func (e *Embedding) Row(id int64) ([]float32, error) {
	if id < 0 || id >= int64(e.Rows) {
		return nil, fmt.Errorf("%w: id %d not in [0, %d)", ErrIndexOutOfRange, id, e.Rows)
	}
	return e.Table[int(id)*e.Dim : int(id+1)*e.Dim], nil
}

// AddTo adds the vector for id to dst.
func (e *Embedding) AddTo(dst []float32, id int64) error {
	row, err := e.Row(id)
	if err != nil {
		return err
	}
	tensor.Add(dst, row)
	return nil
}

// Activate applies f to x in place.
func Activate(x []float32, f func(float32) float32) { tensor.Apply(x, f) }

func scoped(sc weights.Scope, name string) string {
	if sc.Prefix() == "" {
		return name
	}
	return sc.Prefix() + "." + name
}
