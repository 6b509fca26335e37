package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tether/internal/tensor"
)

func TestFlashAttentionPolicy(t *testing.T) {
	t.Parallel()
	full := Features{CUDA: true, FlashAttn: true, FlashAttentionEnv: true}

	tests := []struct {
		name  string
		f     Features
		dtype tensor.DType
		want  bool
	}{
		{"all conditions", full, tensor.F16, true},
		{"bf16", full, tensor.BF16, false},
		{"f32", full, tensor.F32, false},
		{"no cuda", Features{FlashAttn: true, FlashAttentionEnv: true}, tensor.F16, false},
		{"no kernels", Features{CUDA: true, FlashAttentionEnv: true}, tensor.F16, false},
		{"env opt-out", Features{CUDA: true, FlashAttn: true}, tensor.F16, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.f.FlashAttention(tc.dtype))
		})
	}
}

func TestDetectReadsEnvironment(t *testing.T) {
	t.Setenv("USE_FLASH_ATTENTION", "false")
	assert.False(t, Detect().FlashAttentionEnv)

	t.Setenv("USE_FLASH_ATTENTION", "not-a-bool")
	assert.True(t, Detect().FlashAttentionEnv)
}

func TestHas(t *testing.T) {
	t.Parallel()
	assert.True(t, Has(CPU))
	assert.False(t, Has("tpu"))

	f := Features{Metal: true}
	assert.True(t, f.Has(Metal))
	assert.False(t, f.Has(CUDA))
	assert.Equal(t, "cpu,metal", f.Available())
	assert.True(t, f.Supports(tensor.HostDevice))
	assert.False(t, f.Supports(tensor.Device{Kind: CUDA}))
}

func TestNormalizeAndResolve(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"": Auto, " CPU ": CPU, "gpu": CUDA, "mps": Metal, "cuda": CUDA} {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Normalize("tpu")
	require.Error(t, err)

	got, err := Features{}.Resolve("auto")
	require.NoError(t, err)
	assert.Equal(t, CPU, got)

	got, err = Features{CUDA: true}.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, CUDA, got)

	got, err = Features{CUDA: true}.Resolve("metal")
	require.NoError(t, err)
	assert.Equal(t, Metal, got)
}
