package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

var (
	errNegativeDim  = errors.New("tensor: negative dimension")
	errTooLarge     = errors.New("tensor: too large")
	errSizeMismatch = errors.New("tensor: data length does not match shape")
	errNotInteger   = errors.New("tensor: expected an integer tensor")
)

// Tensor is an immutable n-dimensional array. Floating point tensors keep
// their values as float32 rounded to the precision of their dtype; integer
// and bool tensors keep int64 values.
//
// Tensors never alias caller memory: every constructor copies.
type Tensor struct {
	shape  []int
	dtype  DType
	device Device

	f32 []float32
	i64 []int64
}

// NumElements returns the product of shape, rejecting negative dims and
// overflow. A rank-0 shape has one element.
func NumElements(shape []int) (int, error) {
	n := 1
	maxInt := int(^uint(0) >> 1)
	for _, d := range shape {
		if d < 0 {
			return 0, errNegativeDim
		}
		if d != 0 && n > maxInt/d {
			return 0, errTooLarge
		}
		n *= d
	}
	return n, nil
}

// FromFloat32 builds a floating point tensor. Values are rounded to dtype.
func FromFloat32(data []float32, shape []int, dtype DType, dev Device) (*Tensor, error) {
	if !dtype.IsFloat() {
		return nil, fmt.Errorf("tensor: FromFloat32 with non-float dtype %s", dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d, got %d", errSizeMismatch, shape, n, len(data))
	}
	out := make([]float32, n)
	copy(out, data)
	roundTo(dtype, out)
	return &Tensor{shape: cloneShape(shape), dtype: dtype, device: dev, f32: out}, nil
}

// FromInt64 builds an integer or bool tensor.
func FromInt64(data []int64, shape []int, dtype DType, dev Device) (*Tensor, error) {
	if dtype.IsFloat() {
		return nil, fmt.Errorf("tensor: FromInt64 with float dtype %s", dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d, got %d", errSizeMismatch, shape, n, len(data))
	}
	out := make([]int64, n)
	for i, v := range data {
		out[i] = wrapInt(dtype, v)
	}
	return &Tensor{shape: cloneShape(shape), dtype: dtype, device: dev, i64: out}, nil
}

// FromBytes decodes little-endian element data.
func FromBytes(raw []byte, shape []int, dtype DType, dev Device) (*Tensor, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("tensor: unsupported dtype %s", dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("%w: shape %v as %s needs %d bytes, got %d", errSizeMismatch, shape, dtype, n*size, len(raw))
	}
	t := &Tensor{shape: cloneShape(shape), dtype: dtype, device: dev}
	if dtype.IsFloat() {
		t.f32 = DecodeFloat(raw, dtype)
		return t, nil
	}
	t.i64 = make([]int64, n)
	for i := range n {
		b := raw[i*size:]
		switch dtype {
		case U8:
			t.i64[i] = int64(b[0])
		case I8:
			t.i64[i] = int64(int8(b[0]))
		case Bool:
			if b[0] != 0 {
				t.i64[i] = 1
			}
		case I32:
			t.i64[i] = int64(int32(binary.LittleEndian.Uint32(b)))
		case I64:
			t.i64[i] = int64(binary.LittleEndian.Uint64(b))
		}
	}
	return t, nil
}

// DecodeFloat converts little-endian float data of the given dtype to float32.
func DecodeFloat(raw []byte, dtype DType) []float32 {
	switch dtype {
	case F32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	case F64:
		out := make([]float32, len(raw)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		return out
	case F16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out
	case BF16:
		return bfloat16.DecodeFloat32(raw)
	}
	return nil
}

func (t *Tensor) Shape() []int   { return cloneShape(t.shape) }
func (t *Tensor) DType() DType   { return t.dtype }
func (t *Tensor) Device() Device { return t.device }
func (t *Tensor) Rank() int      { return len(t.shape) }

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Len returns the element count.
func (t *Tensor) Len() int {
	if t.dtype.IsFloat() {
		return len(t.f32)
	}
	return len(t.i64)
}

// Float32s returns a copy of the values as float32.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.Len())
	if t.dtype.IsFloat() {
		copy(out, t.f32)
		return out
	}
	for i, v := range t.i64 {
		out[i] = float32(v)
	}
	return out
}

// Int64s returns a copy of the values of an integer or bool tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.dtype.IsFloat() {
		return nil, fmt.Errorf("%w, got %s", errNotInteger, t.dtype)
	}
	out := make([]int64, len(t.i64))
	copy(out, t.i64)
	return out, nil
}

// Bytes encodes the tensor as little-endian data of its dtype.
func (t *Tensor) Bytes() []byte {
	size := t.dtype.Size()
	out := make([]byte, t.Len()*size)
	switch t.dtype {
	case F32:
		for i, v := range t.f32 {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case F64:
		for i, v := range t.f32 {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(float64(v)))
		}
	case F16:
		for i, v := range t.f32 {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
	case BF16:
		copy(out, bfloat16.EncodeFloat32(t.f32))
	case U8, I8, Bool:
		for i, v := range t.i64 {
			out[i] = byte(v)
		}
	case I32:
		for i, v := range t.i64 {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
	case I64:
		for i, v := range t.i64 {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	}
	return out
}

// Cast converts to another floating point dtype.
func (t *Tensor) Cast(dtype DType) (*Tensor, error) {
	if dtype == t.dtype {
		return t, nil
	}
	return FromFloat32(t.Float32s(), t.shape, dtype, t.device)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%v, %s, %s]", t.shape, t.dtype, t.device)
}

func roundTo(dtype DType, data []float32) {
	switch dtype {
	case F16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case BF16:
		copy(data, bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(data)))
	}
}

func wrapInt(dtype DType, v int64) int64 {
	switch dtype {
	case U8:
		return int64(uint8(v))
	case I8:
		return int64(int8(v))
	case I32:
		return int64(int32(v))
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	}
	return v
}

func cloneShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
