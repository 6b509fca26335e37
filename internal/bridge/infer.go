package bridge

import (
	"fmt"

	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/tensor"
)

var inputRoles = [...]string{"input_ids", "attention_mask", "token_type_ids"}

// RunInference is Infer under its boundary name.
func (r *Runtime) RunInference(h handle.Handle, inputs []handle.Handle) (handle.Handle, error) {
	return r.Infer(h, inputs)
}

// Infer runs the model behind modelHandle on two or three tensor handles:
// the token ids, the attention mask and optionally the token type ids. Only
// a successful pass allocates a handle; inputs are never consumed.
func (r *Runtime) Infer(modelHandle handle.Handle, inputs []handle.Handle) (handle.Handle, error) {
	if len(inputs) < 2 {
		return 0, fmt.Errorf("%w: got %d input handles, need input_ids and attention_mask", ErrMissingRequiredInput, len(inputs))
	}
	if len(inputs) > len(inputRoles) {
		return 0, fmt.Errorf("%w: got %d input handles, at most %d are accepted", ErrTooManyInputs, len(inputs), len(inputRoles))
	}

	m, err := handle.Borrow[*Loaded](r.reg, modelHandle)
	if err != nil {
		r.misuse("infer", modelHandle, err)
		return 0, &InvalidHandleError{Role: "model", Err: err}
	}
	var args [len(inputRoles)]*tensor.Tensor
	for i, h := range inputs {
		t, err := handle.Borrow[*tensor.Tensor](r.reg, h)
		if err != nil {
			r.misuse("infer", h, err)
			return 0, &InvalidHandleError{Role: inputRoles[i], Err: err}
		}
		args[i] = t
	}

	out, err := safeForward(m, args[0], args[1], args[2])
	if err != nil {
		r.log.Warn("inference failed", "model", int64(modelHandle), "variant", m.Variant(), "error", err)
		return 0, &ComputationError{Variant: m.Variant(), Err: err}
	}
	h := handle.Create(r.reg, out)
	r.log.Debug("inference done", "model", int64(modelHandle), "output", int64(h), "shape", out.Shape())
	return h, nil
}

func safeForward(m *Loaded, ids, mask, types *tensor.Tensor) (out *tensor.Tensor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return m.Forward(ids, mask, types)
}
