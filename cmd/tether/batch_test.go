package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tether/internal/tensor"
)

func TestParseSequences(t *testing.T) {
	got, err := parseSequences(" 101, 7 ,102; ;101,102 ")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{101, 7, 102}, {101, 102}}, got)

	_, err = parseSequences("1,x")
	require.Error(t, err)
	_, err = parseSequences(" ; ")
	require.Error(t, err)
}

func TestBuildBatchPadsRight(t *testing.T) {
	b, err := buildBatch([][]int64{{5, 6, 7}, {8}}, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, b.n)
	assert.Equal(t, 3, b.seq)
	assert.Equal(t, []int64{5, 6, 7, 8, 1, 1}, b.ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, b.mask)
	assert.Nil(t, b.types)

	ids, mask, types, err := b.tensors()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, ids.Shape())
	assert.Equal(t, []int{2, 3}, mask.Shape())
	assert.Nil(t, types)
}

func TestBuildBatchTypes(t *testing.T) {
	b, err := buildBatch([][]int64{{5, 6}, {8}}, [][]int64{{0, 1}, {1}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 1, 0}, b.types)

	_, err = buildBatch([][]int64{{5, 6}}, [][]int64{{0}}, 0)
	require.Error(t, err)
	_, err = buildBatch([][]int64{{5}}, [][]int64{{0}, {1}}, 0)
	require.Error(t, err)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, argmax([]float32{0.1, -3, 4, 4}))
	assert.Equal(t, 0, argmax([]float32{1}))
}

func TestSummarize(t *testing.T) {
	logits, err := tensor.FromFloat32([]float32{0.1, 0.9, 0.7, 0.2}, []int{2, 2}, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)
	res := summarize(logits, 0)
	assert.Equal(t, []int{1, 0}, res.Labels)
	assert.Equal(t, [][]float32{{0.1, 0.9}, {0.7, 0.2}}, res.Values)

	hidden, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}, []int{2, 2, 2}, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)
	res = summarize(hidden, 1)
	assert.Nil(t, res.Labels)
	assert.Equal(t, [][]float32{{1}, {5}}, res.Values)
}
