package bridge

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/tensor"
)

// TensorInfo describes a tensor handle.
type TensorInfo struct {
	Shape     []int         `json:"shape"`
	DType     string        `json:"dtype"`
	DTypeCode int32         `json:"dtype_code"`
	Device    tensor.Device `json:"device"`
}

// CreateTensor decodes raw little-endian data into a tensor handle.
func (r *Runtime) CreateTensor(raw []byte, shape []int, dtypeCode int32, deviceType string, deviceID int) (handle.Handle, error) {
	dtype, err := tensor.DTypeFromCode(dtypeCode)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	dev, err := r.device(deviceType, deviceID)
	if err != nil {
		return 0, err
	}
	t, err := tensor.FromBytes(raw, shape, dtype, dev)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return handle.Create(r.reg, t), nil
}

// AddTensor registers an existing tensor, checking its device against the
// build.
func (r *Runtime) AddTensor(t *tensor.Tensor) (handle.Handle, error) {
	if t == nil {
		return 0, fmt.Errorf("%w: nil tensor", ErrInvalidArgument)
	}
	if !r.features.Supports(t.Device()) {
		return 0, fmt.Errorf("%w: device %s is not available", ErrInvalidArgument, t.Device())
	}
	return handle.Create(r.reg, t), nil
}

// Tensor returns the tensor behind h.
func (r *Runtime) Tensor(h handle.Handle) (*tensor.Tensor, error) {
	t, err := handle.Borrow[*tensor.Tensor](r.reg, h)
	if err != nil {
		r.misuse("tensor", h, err)
		return nil, err
	}
	return t, nil
}

func (r *Runtime) TensorInfo(h handle.Handle) (TensorInfo, error) {
	t, err := r.Tensor(h)
	if err != nil {
		return TensorInfo{}, err
	}
	return TensorInfo{
		Shape:     t.Shape(),
		DType:     t.DType().String(),
		DTypeCode: int32(t.DType()),
		Device:    t.Device(),
	}, nil
}

// TensorBytes returns the little-endian encoding of the tensor behind h.
func (r *Runtime) TensorBytes(h handle.Handle) ([]byte, error) {
	t, err := r.Tensor(h)
	if err != nil {
		return nil, err
	}
	return t.Bytes(), nil
}

func (r *Runtime) DeleteTensor(h handle.Handle) error {
	err := handle.Destroy[*tensor.Tensor](r.reg, h)
	if errors.Is(err, handle.ErrHandle) {
		r.misuse("delete_tensor", h, err)
	}
	return err
}

func (r *Runtime) device(kind string, id int) (tensor.Device, error) {
	dev, err := tensor.ParseDevice(kind, id)
	if err != nil {
		return tensor.Device{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !r.features.Supports(dev) {
		return tensor.Device{}, fmt.Errorf("%w: device %s is not available (this build supports %s)",
			ErrInvalidArgument, dev, r.features.Available())
	}
	return dev, nil
}
