package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/tether/internal/tensor"
)

// batchInputs is a right-padded [n, seq] batch built from the command line.
type batchInputs struct {
	n, seq int
	ids    []int64
	mask   []int64
	types  []int64
}

// parseSequences reads "1,2,3;4,5" as two sequences.
func parseSequences(s string) ([][]int64, error) {
	var out [][]int64
	for part := range strings.SplitSeq(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var seq []int64
		for field := range strings.SplitSeq(part, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid token id %q: %w", field, err)
			}
			seq = append(seq, v)
		}
		out = append(out, seq)
	}
	if len(out) == 0 {
		return nil, errors.New("no token ids given")
	}
	return out, nil
}

// buildBatch pads ids with padID up to the longest sequence. types, when
// given, must match ids sequence for sequence.
func buildBatch(ids, types [][]int64, padID int64) (batchInputs, error) {
	if types != nil && len(types) != len(ids) {
		return batchInputs{}, fmt.Errorf("got %d token type sequences for %d id sequences", len(types), len(ids))
	}
	seq := 0
	for _, s := range ids {
		seq = max(seq, len(s))
	}
	b := batchInputs{
		n:    len(ids),
		seq:  seq,
		ids:  slices.Repeat([]int64{padID}, len(ids)*seq),
		mask: make([]int64, len(ids)*seq),
	}
	if types != nil {
		b.types = make([]int64, len(ids)*seq)
	}
	for i, s := range ids {
		copy(b.ids[i*seq:], s)
		for j := range s {
			b.mask[i*seq+j] = 1
		}
		if types != nil {
			if len(types[i]) != len(s) {
				return batchInputs{}, fmt.Errorf("sequence %d: %d token types for %d ids", i, len(types[i]), len(s))
			}
			copy(b.types[i*seq:], types[i])
		}
	}
	return b, nil
}

func (b batchInputs) tensors() (ids, mask, types *tensor.Tensor, err error) {
	shape := []int{b.n, b.seq}
	if ids, err = tensor.FromInt64(b.ids, shape, tensor.I64, tensor.HostDevice); err != nil {
		return nil, nil, nil, err
	}
	if mask, err = tensor.FromInt64(b.mask, shape, tensor.I64, tensor.HostDevice); err != nil {
		return nil, nil, nil, err
	}
	if b.types != nil {
		if types, err = tensor.FromInt64(b.types, shape, tensor.I64, tensor.HostDevice); err != nil {
			return nil, nil, nil, err
		}
	}
	return ids, mask, types, nil
}

// argmax returns the index of the largest value in row.
func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
