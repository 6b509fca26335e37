package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/modeltest"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

func hostOptions() Options {
	return Options{DType: tensor.F32, Device: tensor.HostDevice}
}

func parseDir(t *testing.T, dir string) *arch.Config {
	t.Helper()
	doc, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	cfg, err := arch.Parse(doc)
	require.NoError(t, err)
	return cfg
}

func buildDir(t *testing.T, dir string, opts Options) Model {
	t.Helper()
	cfg := parseDir(t, dir)
	ws, err := weights.Open(dir, opts.DType, opts.Device)
	require.NoError(t, err)
	m, err := Build(cfg, ws, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func ints(t *testing.T, shape []int, values ...int64) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromInt64(values, shape, tensor.I64, tensor.HostDevice)
	require.NoError(t, err)
	return out
}

func TestBuildEveryFamily(t *testing.T) {
	t.Parallel()
	specs := []modeltest.Spec{
		{Family: arch.Bert, Layers: 2, Positions: 8, TypeVocab: 2},
		{Family: arch.Roberta, Layers: 1, Positions: 10, TypeVocab: 1},
		{Family: arch.XLMRoberta, Layers: 1, Positions: 10},
		{Family: arch.Camembert, Layers: 1, Positions: 10, Prefix: "roberta"},
		{Family: arch.DistilBert, Layers: 2, Positions: 8},
		{Family: arch.Mistral, Layers: 2},
	}
	for _, s := range specs {
		t.Run(string(s.Family), func(t *testing.T) {
			t.Parallel()
			m := buildDir(t, modeltest.Dir(t, s), hostOptions())
			require.NotEmpty(t, m.InputNames())
			assert.Equal(t, []string{"input_ids", "attention_mask"}, m.InputNames()[:2])

			out, err := m.Forward(
				ints(t, []int{2, 4}, 2, 3, 4, 5, 6, 7, 8, 0),
				ints(t, []int{2, 4}, 1, 1, 1, 1, 1, 1, 1, 0),
				nil,
			)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 4, modeltest.Hidden}, out.Shape())
			assert.Equal(t, tensor.F32, out.DType())
		})
	}
}

func TestMinimalBaseModel(t *testing.T) {
	t.Parallel()
	m := buildDir(t, modeltest.Minimal(t), hostOptions())
	assert.Equal(t, []string{"input_ids", "attention_mask"}, m.InputNames())
	assert.Equal(t, "BertModel", m.Variant())

	out, err := m.Forward(ints(t, []int{1, 3}, 1, 2, 3), ints(t, []int{1, 3}, 1, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, modeltest.Hidden}, out.Shape())
}

func TestClassificationHeads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		family arch.Family
		head   string
		prefix string
	}{
		{arch.Bert, "BertForSequenceClassification", "bert"},
		{arch.Roberta, "RobertaForSequenceClassification", "roberta"},
		{arch.XLMRoberta, "XLMRobertaForSequenceClassification", "roberta"},
	}
	for _, tc := range tests {
		t.Run(tc.head, func(t *testing.T) {
			t.Parallel()
			dir := modeltest.Dir(t, modeltest.Spec{Family: tc.family, Layers: 1, Positions: 8, Head: tc.head, Labels: 3, Prefix: tc.prefix})
			m := buildDir(t, dir, hostOptions())
			assert.Equal(t, tc.head, m.Variant())
			assert.Equal(t, []string{"input_ids", "attention_mask"}, m.InputNames())

			out, err := m.Forward(ints(t, []int{2, 3}, 0, 4, 5, 0, 6, 1), ints(t, []int{2, 3}, 1, 1, 1, 1, 1, 0), nil)
			require.NoError(t, err)
			assert.Equal(t, []int{2, 3}, out.Shape())
		})
	}
}

func TestUnknownHeadFallsBackToBase(t *testing.T) {
	t.Parallel()
	for _, s := range []modeltest.Spec{
		{Family: arch.Bert, Head: "BertForMaskedLM"},
		{Family: arch.Camembert, Head: "CamembertForSequenceClassification"},
		{Family: arch.DistilBert, Head: "DistilBertForSequenceClassification"},
	} {
		m := buildDir(t, modeltest.Dir(t, s), hostOptions())
		assert.NotContains(t, m.Variant(), "For", s.Family)
	}
}

func TestVariants(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"BertForSequenceClassification"}, Variants(arch.Bert))
	assert.Empty(t, Variants(arch.Camembert))
	assert.Empty(t, Variants(arch.Mistral))
}

func TestBuildRejectsUnsupportedDevice(t *testing.T) {
	t.Parallel()
	cfg := parseDir(t, modeltest.Minimal(t))
	opts := hostOptions()
	opts.Device = tensor.Device{Kind: tensor.CUDA}
	_, err := Build(cfg, nil, opts)
	require.ErrorIs(t, err, ErrUnsupportedDevice)
	assert.False(t, cfg.FlashAttention())
}

func TestBuildMissingTensor(t *testing.T) {
	t.Parallel()
	dir := modeltest.Minimal(t)
	modeltest.WriteConfig(t, dir, modeltest.Config(modeltest.Spec{Family: arch.Bert, Positions: 4}))
	cfg := parseDir(t, dir)
	ws, err := weights.Open(dir, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)
	defer ws.Close()

	_, err = Build(cfg, ws, hostOptions())
	require.ErrorIs(t, err, ErrConstruction)
	require.ErrorIs(t, err, weights.ErrMissingTensor)
	var ce *ConstructionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, arch.Bert, ce.Family)
}

func TestBuildBadShape(t *testing.T) {
	t.Parallel()
	dir := modeltest.Minimal(t)
	modeltest.WriteConfig(t, dir, modeltest.Config(modeltest.Spec{Family: arch.Bert, Config: map[string]any{"vocab_size": 99}}))
	cfg := parseDir(t, dir)
	ws, err := weights.Open(dir, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)
	defer ws.Close()

	_, err = Build(cfg, ws, hostOptions())
	require.ErrorIs(t, err, weights.ErrShape)
}

func TestFlashAttentionDecisionRecorded(t *testing.T) {
	t.Parallel()
	dir := modeltest.Dir(t, modeltest.Spec{Family: arch.Bert, Layers: 1, Positions: 8})

	flash := Options{
		DType:    tensor.F16,
		Device:   tensor.HostDevice,
		Features: backend.Features{CUDA: true, FlashAttn: true, FlashAttentionEnv: true},
	}
	cfg := parseDir(t, dir)
	ws, err := weights.Open(dir, flash.DType, flash.Device)
	require.NoError(t, err)
	fm, err := Build(cfg, ws, flash)
	require.NoError(t, err)
	defer fm.Close()
	assert.True(t, cfg.FlashAttention())
	require.Error(t, cfg.SetFlashAttention(false))

	standard := flash
	standard.Features.FlashAttentionEnv = false
	sm := buildDir(t, dir, standard)

	ids := ints(t, []int{1, 5}, 1, 2, 3, 4, 5)
	mask := ints(t, []int{1, 5}, 1, 1, 1, 1, 0)
	a, err := fm.Forward(ids, mask, nil)
	require.NoError(t, err)
	b, err := sm.Forward(ids, mask, nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.F16, a.DType())
	assert.InDeltaSlice(t, b.Float32s(), a.Float32s(), 1e-2)
}

func TestPaddingDoesNotLeak(t *testing.T) {
	t.Parallel()
	m := buildDir(t, modeltest.Dir(t, modeltest.Spec{Family: arch.Bert, Layers: 2, Positions: 8}), hostOptions())

	short, err := m.Forward(ints(t, []int{1, 2}, 3, 4), ints(t, []int{1, 2}, 1, 1), nil)
	require.NoError(t, err)
	padded, err := m.Forward(ints(t, []int{1, 3}, 3, 4, 9), ints(t, []int{1, 3}, 1, 1, 0), nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, short.Float32s(), padded.Float32s()[:2*modeltest.Hidden], 1e-5)
}

func TestMistralIsCausal(t *testing.T) {
	t.Parallel()
	m := buildDir(t, modeltest.Dir(t, modeltest.Spec{Family: arch.Mistral, Layers: 2}), hostOptions())
	mask := ints(t, []int{1, 3}, 1, 1, 1)

	a, err := m.Forward(ints(t, []int{1, 3}, 1, 2, 3), mask, nil)
	require.NoError(t, err)
	b, err := m.Forward(ints(t, []int{1, 3}, 1, 2, 7), mask, nil)
	require.NoError(t, err)
	n := 2 * modeltest.Hidden
	assert.InDeltaSlice(t, a.Float32s()[:n], b.Float32s()[:n], 1e-6)
	assert.NotEqual(t, a.Float32s()[n:], b.Float32s()[n:])
}

func TestTokenTypeInput(t *testing.T) {
	t.Parallel()
	m := buildDir(t, modeltest.Dir(t, modeltest.Spec{Family: arch.Bert, Positions: 4, TypeVocab: 2}), hostOptions())
	assert.Equal(t, []string{"input_ids", "attention_mask", "token_type_ids"}, m.InputNames())

	ids := ints(t, []int{1, 2}, 1, 2)
	mask := ints(t, []int{1, 2}, 1, 1)
	zeros, err := m.Forward(ids, mask, nil)
	require.NoError(t, err)
	explicit, err := m.Forward(ids, mask, ints(t, []int{1, 2}, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, zeros.Float32s(), explicit.Float32s())

	second, err := m.Forward(ids, mask, ints(t, []int{1, 2}, 1, 1))
	require.NoError(t, err)
	assert.NotEqual(t, zeros.Float32s(), second.Float32s())

	_, err = m.Forward(ids, mask, ints(t, []int{1, 2}, 2, 0))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestForwardRejectsBadInputs(t *testing.T) {
	t.Parallel()
	m := buildDir(t, modeltest.Minimal(t), hostOptions())
	mask := ints(t, []int{1, 2}, 1, 1)

	floats, err := tensor.FromFloat32([]float32{1, 2}, []int{1, 2}, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)

	tests := map[string]struct {
		ids, mask, types *tensor.Tensor
	}{
		"float ids":       {floats, mask, nil},
		"mask shape":      {ints(t, []int{1, 2}, 1, 2), ints(t, []int{2, 1}, 1, 1), nil},
		"id out of range": {ints(t, []int{1, 2}, 1, modeltest.Vocab), mask, nil},
		"rank 3":          {ints(t, []int{1, 1, 2}, 1, 2), ints(t, []int{1, 1, 2}, 1, 1), nil},
		"nil mask":        {ints(t, []int{1, 2}, 1, 2), nil, nil},
		"types shape":     {ints(t, []int{1, 2}, 1, 2), mask, ints(t, []int{1, 1}, 0)},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := m.Forward(tc.ids, tc.mask, tc.types)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	out, err := m.Forward(ints(t, []int{2}, 1, 2), floats, nil)
	require.Error(t, err, "mask shape must match ids exactly")
	assert.Nil(t, out)
}

func TestRobertaPositionIDs(t *testing.T) {
	t.Parallel()
	e := &encoder{names: robertaNames, p: encoderParams{pad: 1}}
	b := &batch{n: 1, seq: 5, ids: []int64{0, 7, 8, 1, 1}}
	assert.Equal(t, []int64{2, 3, 4, 1, 1}, e.positionIDs(b, 0))

	e.names = bertNames
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, e.positionIDs(b, 0))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := modeltest.Minimal(t)
	cfg := parseDir(t, dir)
	ws, err := weights.Open(dir, tensor.F32, tensor.HostDevice)
	require.NoError(t, err)
	m, err := Build(cfg, ws, hostOptions())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestVariantName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec modeltest.Spec
		want string
	}{
		{modeltest.Spec{Family: arch.Bert}, "BertModel"},
		{modeltest.Spec{Family: arch.Bert, Head: "BertForSequenceClassification"}, "BertForSequenceClassification"},
		{modeltest.Spec{Family: arch.Bert, Head: "BertForMaskedLM"}, "BertModel"},
		{modeltest.Spec{Family: arch.Camembert}, "CamembertModel"},
		{modeltest.Spec{Family: arch.DistilBert}, "DistilBertModel"},
		{modeltest.Spec{Family: arch.Mistral}, "MistralModel"},
	}
	for _, tc := range tests {
		dir := t.TempDir()
		modeltest.WriteConfig(t, dir, modeltest.Config(tc.spec))
		assert.Equal(t, tc.want, VariantName(parseDir(t, dir)))
	}
}
