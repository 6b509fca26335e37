// Package modeltest writes small but complete model directories for tests.
package modeltest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/safetensors"
)

// Dimensions shared by every fixture.
const (
	Vocab   = 16
	Hidden  = 8
	Heads   = 2
	FFN     = 16
	HeadDim = Hidden / Heads
)

// Spec describes a fixture directory.
type Spec struct {
	Family arch.Family
	Layers int
	// Head becomes architectures[0]; empty omits the field.
	Head      string
	Labels    int
	Positions int
	TypeVocab int
	// Prefix is prepended to backbone tensor names ("bert", "roberta", ...).
	Prefix string
	// Config entries override the generated config.json.
	Config map[string]any
}

// Dir writes s into a new temporary directory and returns its path.
func Dir(tb testing.TB, s Spec) string {
	tb.Helper()
	dir := tb.TempDir()
	Write(tb, dir, s)
	return dir
}

// Write writes config.json and model.safetensors for s into dir.
func Write(tb testing.TB, dir string, s Spec) {
	tb.Helper()
	WriteConfig(tb, dir, Config(s))
	require.NoError(tb, safetensors.WriteFile(filepath.Join(dir, "model.safetensors"), Tensors(s), nil))
}

// Minimal writes a bert directory with exactly two tensors and no
// architectures field.
func Minimal(tb testing.TB) string {
	tb.Helper()
	dir := tb.TempDir()
	WriteConfig(tb, dir, Config(Spec{Family: arch.Bert}))
	require.NoError(tb, safetensors.WriteFile(filepath.Join(dir, "model.safetensors"), map[string]safetensors.Entry{
		"embeddings.word_embeddings.weight": safetensors.F32([]int{Vocab, Hidden}, Values(Vocab*Hidden, 1)),
		"embeddings.LayerNorm.weight":       safetensors.F32([]int{Hidden}, Ones(Hidden)),
	}, nil))
	return dir
}

// WriteConfig writes doc as config.json.
func WriteConfig(tb testing.TB, dir string, doc map[string]any) {
	tb.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(tb, err)
	require.NoError(tb, os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644))
}

// Config returns the config.json document for s.
func Config(s Spec) map[string]any {
	var doc map[string]any
	switch s.Family {
	case arch.DistilBert:
		doc = map[string]any{
			"vocab_size":              Vocab,
			"dim":                     Hidden,
			"n_layers":                s.Layers,
			"n_heads":                 Heads,
			"hidden_dim":              FFN,
			"max_position_embeddings": s.Positions,
		}
	case arch.Mistral:
		doc = map[string]any{
			"vocab_size":              Vocab,
			"hidden_size":             Hidden,
			"intermediate_size":       FFN,
			"num_hidden_layers":       s.Layers,
			"num_attention_heads":     Heads,
			"num_key_value_heads":     1,
			"max_position_embeddings": 64,
			"sliding_window":          nil,
		}
	default:
		doc = map[string]any{
			"vocab_size":              Vocab,
			"hidden_size":             Hidden,
			"num_hidden_layers":       s.Layers,
			"num_attention_heads":     Heads,
			"intermediate_size":       FFN,
			"max_position_embeddings": s.Positions,
			"type_vocab_size":         s.TypeVocab,
		}
	}
	doc["model_type"] = string(s.Family)
	if s.Head != "" {
		doc["architectures"] = []string{s.Head}
	}
	if s.Labels > 0 {
		labels := make(map[string]string, s.Labels)
		for i := range s.Labels {
			labels[fmt.Sprint(i)] = fmt.Sprintf("LABEL_%d", i)
		}
		doc["id2label"] = labels
	}
	for k, v := range s.Config {
		doc[k] = v
	}
	return doc
}

// labels is the classification width the fixture's config implies.
func (s Spec) labels() int {
	if s.Labels > 0 {
		return s.Labels
	}
	return 2
}

// Tensors returns every tensor the fixture's model needs, including the
// classification head named by s.Head.
func Tensors(s Spec) map[string]safetensors.Entry {
	b := builder{out: map[string]safetensors.Entry{}}
	switch s.Family {
	case arch.Mistral:
		b.mistral(s)
	case arch.DistilBert:
		b.distilbert(s)
	default:
		b.bert(s)
	}
	return b.out
}

type builder struct {
	out  map[string]safetensors.Entry
	seed int
}

func (b *builder) add(name string, shape []int, values []float32) {
	b.out[name] = safetensors.F32(shape, values)
}

func (b *builder) matrix(name string, rows, cols int) {
	b.seed++
	b.add(name, []int{rows, cols}, Values(rows*cols, b.seed))
}

func (b *builder) linear(prefix string, in, out int, bias bool) {
	b.matrix(prefix+".weight", out, in)
	if bias {
		b.seed++
		b.add(prefix+".bias", []int{out}, Values(out, b.seed))
	}
}

func (b *builder) layerNorm(prefix string, dim int) {
	b.add(prefix+".weight", []int{dim}, Ones(dim))
	b.add(prefix+".bias", []int{dim}, make([]float32, dim))
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (b *builder) bert(s Spec) {
	p := s.Prefix
	b.matrix(join(p, "embeddings.word_embeddings.weight"), Vocab, Hidden)
	if s.Positions > 0 {
		b.matrix(join(p, "embeddings.position_embeddings.weight"), s.Positions, Hidden)
	}
	if s.TypeVocab > 0 {
		b.matrix(join(p, "embeddings.token_type_embeddings.weight"), s.TypeVocab, Hidden)
	}
	b.layerNorm(join(p, "embeddings.LayerNorm"), Hidden)
	for i := range s.Layers {
		l := join(p, fmt.Sprintf("encoder.layer.%d", i))
		b.linear(l+".attention.self.query", Hidden, Hidden, true)
		b.linear(l+".attention.self.key", Hidden, Hidden, true)
		b.linear(l+".attention.self.value", Hidden, Hidden, true)
		b.linear(l+".attention.output.dense", Hidden, Hidden, true)
		b.layerNorm(l+".attention.output.LayerNorm", Hidden)
		b.linear(l+".intermediate.dense", Hidden, FFN, true)
		b.linear(l+".output.dense", FFN, Hidden, true)
		b.layerNorm(l+".output.LayerNorm", Hidden)
	}
	switch s.Head {
	case "BertForSequenceClassification":
		b.linear(join(p, "pooler.dense"), Hidden, Hidden, true)
		b.linear("classifier", Hidden, s.labels(), true)
	case "RobertaForSequenceClassification", "XLMRobertaForSequenceClassification":
		b.linear("classifier.dense", Hidden, Hidden, true)
		b.linear("classifier.out_proj", Hidden, s.labels(), true)
	}
}

func (b *builder) distilbert(s Spec) {
	p := s.Prefix
	b.matrix(join(p, "embeddings.word_embeddings.weight"), Vocab, Hidden)
	if s.Positions > 0 {
		b.matrix(join(p, "embeddings.position_embeddings.weight"), s.Positions, Hidden)
	}
	b.layerNorm(join(p, "embeddings.LayerNorm"), Hidden)
	for i := range s.Layers {
		l := join(p, fmt.Sprintf("transformer.layer.%d", i))
		for _, n := range []string{"q_lin", "k_lin", "v_lin", "out_lin"} {
			b.linear(l+".attention."+n, Hidden, Hidden, true)
		}
		b.layerNorm(l+".sa_layer_norm", Hidden)
		b.linear(l+".ffn.lin1", Hidden, FFN, true)
		b.linear(l+".ffn.lin2", FFN, Hidden, true)
		b.layerNorm(l+".output_layer_norm", Hidden)
	}
}

func (b *builder) mistral(s Spec) {
	p := s.Prefix
	b.matrix(join(p, "embed_tokens.weight"), Vocab, Hidden)
	for i := range s.Layers {
		l := join(p, fmt.Sprintf("layers.%d", i))
		b.add(l+".input_layernorm.weight", []int{Hidden}, Ones(Hidden))
		b.linear(l+".self_attn.q_proj", Hidden, Heads*HeadDim, false)
		b.linear(l+".self_attn.k_proj", Hidden, HeadDim, false)
		b.linear(l+".self_attn.v_proj", Hidden, HeadDim, false)
		b.linear(l+".self_attn.o_proj", Heads*HeadDim, Hidden, false)
		b.add(l+".post_attention_layernorm.weight", []int{Hidden}, Ones(Hidden))
		b.linear(l+".mlp.gate_proj", Hidden, FFN, false)
		b.linear(l+".mlp.up_proj", Hidden, FFN, false)
		b.linear(l+".mlp.down_proj", FFN, Hidden, false)
	}
	b.add(join(p, "norm.weight"), []int{Hidden}, Ones(Hidden))
}

// Values returns n deterministic values in [-0.5, 0.5].
func Values(n, seed int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(float64(seed)*0.37+float64(i)*0.91))
	}
	return out
}

func Ones(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
