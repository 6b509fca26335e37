package model

import (
	"fmt"
	"slices"

	"github.com/samcharles93/tether/internal/tensor"
)

// batch is the decoded form of the forward inputs.
type batch struct {
	n, seq int
	ids    []int64
	keep   []bool
	types  []int64
}

func (b *batch) tokens() int { return b.n * b.seq }

// readBatch validates and decodes the inputs. ids must be an integer tensor
// of shape [batch, seq] or [seq]; the mask must match it and may be integer
// or floating point, with non-zero meaning "attend".
func readBatch(inputIDs, attentionMask, tokenTypeIDs *tensor.Tensor) (*batch, error) {
	if inputIDs == nil {
		return nil, fmt.Errorf("%w: input_ids is required", ErrInvalidInput)
	}
	if attentionMask == nil {
		return nil, fmt.Errorf("%w: attention_mask is required", ErrInvalidInput)
	}
	shape := inputIDs.Shape()
	switch len(shape) {
	case 1:
		shape = []int{1, shape[0]}
	case 2:
	default:
		return nil, fmt.Errorf("%w: input_ids must be [batch, seq], got %v", ErrInvalidInput, inputIDs.Shape())
	}
	ids, err := inputIDs.Int64s()
	if err != nil {
		return nil, fmt.Errorf("%w: input_ids: %v", ErrInvalidInput, err)
	}
	if !slices.Equal(attentionMask.Shape(), inputIDs.Shape()) {
		return nil, fmt.Errorf("%w: attention_mask shape %v does not match input_ids %v",
			ErrInvalidInput, attentionMask.Shape(), inputIDs.Shape())
	}

	b := &batch{n: shape[0], seq: shape[1], ids: ids, keep: make([]bool, len(ids))}
	if attentionMask.DType().IsFloat() {
		for i, v := range attentionMask.Float32s() {
			b.keep[i] = v != 0
		}
	} else {
		mask, err := attentionMask.Int64s()
		if err != nil {
			return nil, fmt.Errorf("%w: attention_mask: %v", ErrInvalidInput, err)
		}
		for i, v := range mask {
			b.keep[i] = v != 0
		}
	}

	if tokenTypeIDs != nil {
		if !slices.Equal(tokenTypeIDs.Shape(), inputIDs.Shape()) {
			return nil, fmt.Errorf("%w: token_type_ids shape %v does not match input_ids %v",
				ErrInvalidInput, tokenTypeIDs.Shape(), inputIDs.Shape())
		}
		if b.types, err = tokenTypeIDs.Int64s(); err != nil {
			return nil, fmt.Errorf("%w: token_type_ids: %v", ErrInvalidInput, err)
		}
	}
	return b, nil
}

// output wraps activations at the model's dtype and device.
func output(data []float32, shape []int, opts Options) (*tensor.Tensor, error) {
	return tensor.FromFloat32(data, shape, opts.DType, opts.Device)
}
