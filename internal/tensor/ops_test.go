package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMulT(t *testing.T) {
	t.Parallel()
	// a = [[1 2 3] [4 5 6]], b = [[1 0 0] [0 1 0] [1 1 1] [0 0 2]]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{1, 0, 0, 0, 1, 0, 1, 1, 1, 0, 0, 2}
	dst := make([]float32, 8)
	MatMulT(dst, a, b, 2, 3, 4)
	assert.Equal(t, []float32{1, 2, 6, 6, 4, 5, 15, 12}, dst)
}

func TestMatMul(t *testing.T) {
	t.Parallel()
	a := []float32{1, 2, 3, 4}
	b := []float32{5, 6, 7, 8}
	dst := make([]float32, 4)
	MatMul(dst, a, b, 2, 2, 2)
	assert.Equal(t, []float32{19, 22, 43, 50}, dst)
}

func TestLayerNorm(t *testing.T) {
	t.Parallel()
	src := []float32{1, 2, 3, 4}
	dst := make([]float32, 4)
	LayerNorm(dst, src, []float32{1, 1, 1, 1}, nil, 0)

	var mean float32
	for _, v := range dst {
		mean += v
	}
	assert.InDelta(t, 0, mean/4, 1e-6)
	assert.InDelta(t, -1.3416, dst[0], 1e-3)

	LayerNorm(dst, src, []float32{2, 2, 2, 2}, []float32{1, 1, 1, 1}, 0)
	assert.InDelta(t, -1.6833, dst[0], 1e-3)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, -1e9}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.Equal(t, float32(0), x[3])
}

func TestActivation(t *testing.T) {
	t.Parallel()
	f, err := Activation("gelu")
	require.NoError(t, err)
	assert.InDelta(t, 0.8413, f(1), 1e-4)

	f, err = Activation("gelu_new")
	require.NoError(t, err)
	assert.InDelta(t, 0.8412, f(1), 1e-4)

	_, err = Activation("mish")
	require.Error(t, err)
}
