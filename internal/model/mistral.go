package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/nn"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

const mistralVariant = "MistralModel"

type mistralLayer struct {
	inputNorm *nn.RMSNorm
	q, k, v   *nn.Linear
	o         *nn.Linear
	postNorm  *nn.RMSNorm
	gate      *nn.Linear
	up        *nn.Linear
	down      *nn.Linear
}

// mistral is a pre-norm decoder with rotary positions, grouped-query
// attention and a gated MLP. Forward returns the final hidden states.
type mistral struct {
	c      *arch.MistralConfig
	opts   Options
	attn   nn.Attention
	act    func(float32) float32
	rope   *nn.RoPE
	window int

	embed  *nn.Embedding
	layers []mistralLayer
	norm   *nn.RMSNorm

	store     *weights.Store
	closeOnce sync.Once
	closeErr  error
}

func newMistral(cfg *arch.Config, ws *weights.Store, opts Options) (Model, error) {
	c := cfg.Mistral
	fail := func(err error) (Model, error) {
		return nil, &ConstructionError{Family: cfg.Family, Variant: mistralVariant, Err: err}
	}
	act, err := tensor.Activation(c.HiddenAct)
	if err != nil {
		return fail(err)
	}
	m := &mistral{
		c:     c,
		opts:  opts,
		attn:  opts.attention(cfg),
		act:   act,
		rope:  nn.NewRoPE(c.HeadDim(), c.RopeTheta, nn.ResolveRopeScaling(c.RopeScaling, c.MaxPositionEmbeddings)),
		store: ws,
	}
	if c.SlidingWindow != nil {
		m.window = *c.SlidingWindow
	}

	sc := modelScope(ws, "model", "embed_tokens.weight")
	if m.embed, err = nn.LoadEmbedding(sc.Sub("embed_tokens"), c.VocabSize, c.HiddenSize); err != nil {
		return fail(err)
	}
	m.layers = make([]mistralLayer, c.NumHiddenLayers)
	for i := range m.layers {
		if err := m.loadLayer(&m.layers[i], sc.Subf("layers.%d", i)); err != nil {
			return fail(fmt.Errorf("layer %d: %w", i, err))
		}
	}
	if m.norm, err = nn.LoadRMSNorm(sc.Sub("norm"), c.HiddenSize, c.RMSNormEps); err != nil {
		return fail(err)
	}
	return m, nil
}

func (m *mistral) loadLayer(l *mistralLayer, sc weights.Scope) error {
	c := m.c
	h, ffn := c.HiddenSize, c.IntermediateSize
	qDim := c.NumAttentionHeads * c.HeadDim()
	kvDim := c.NumKeyValueHeads * c.HeadDim()
	var err error
	if l.inputNorm, err = nn.LoadRMSNorm(sc.Sub("input_layernorm"), h, c.RMSNormEps); err != nil {
		return err
	}
	if l.q, err = nn.LoadLinear(sc.Sub("self_attn.q_proj"), h, qDim); err != nil {
		return err
	}
	if l.k, err = nn.LoadLinear(sc.Sub("self_attn.k_proj"), h, kvDim); err != nil {
		return err
	}
	if l.v, err = nn.LoadLinear(sc.Sub("self_attn.v_proj"), h, kvDim); err != nil {
		return err
	}
	if l.o, err = nn.LoadLinear(sc.Sub("self_attn.o_proj"), qDim, h); err != nil {
		return err
	}
	if l.postNorm, err = nn.LoadRMSNorm(sc.Sub("post_attention_layernorm"), h, c.RMSNormEps); err != nil {
		return err
	}
	if l.gate, err = nn.LoadLinear(sc.Sub("mlp.gate_proj"), h, ffn); err != nil {
		return err
	}
	if l.up, err = nn.LoadLinear(sc.Sub("mlp.up_proj"), h, ffn); err != nil {
		return err
	}
	l.down, err = nn.LoadLinear(sc.Sub("mlp.down_proj"), ffn, h)
	return err
}

func (m *mistral) Variant() string { return mistralVariant }

func (m *mistral) InputNames() []string { return []string{"input_ids", "attention_mask"} }

func (m *mistral) Forward(inputIDs, attentionMask, tokenTypeIDs *tensor.Tensor) (*tensor.Tensor, error) {
	b, err := readBatch(inputIDs, attentionMask, nil)
	if err != nil {
		return nil, err
	}
	h := m.c.HiddenSize
	x := make([]float32, b.tokens()*h)
	for t, id := range b.ids {
		if err := m.embed.AddTo(x[t*h:(t+1)*h], id); err != nil {
			return nil, fmt.Errorf("%w: input_ids: %w", ErrInvalidInput, err)
		}
	}
	for i := range m.layers {
		if err := m.forwardLayer(&m.layers[i], x, b); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	m.norm.Forward(x)
	return output(x, []int{b.n, b.seq, h}, m.opts)
}

// forwardLayer updates the residual stream x in place.
func (m *mistral) forwardLayer(l *mistralLayer, x []float32, b *batch) error {
	c := m.c
	rows := b.tokens()
	headDim := c.HeadDim()
	qDim := c.NumAttentionHeads * headDim
	kvDim := c.NumKeyValueHeads * headDim

	hs := slices.Clone(x)
	l.inputNorm.Forward(hs)
	q := l.q.Forward(hs, rows)
	k := l.k.Forward(hs, rows)
	v := l.v.Forward(hs, rows)
	for t := range rows {
		pos := t % b.seq
		m.rope.Apply(q[t*qDim:(t+1)*qDim], c.NumAttentionHeads, pos)
		m.rope.Apply(k[t*kvDim:(t+1)*kvDim], c.NumKeyValueHeads, pos)
	}

	ctx := make([]float32, rows*qDim)
	d := nn.Dims{Batch: b.n, Seq: b.seq, Heads: c.NumAttentionHeads, KVHeads: c.NumKeyValueHeads, HeadDim: headDim}
	mask := nn.Mask{Keep: b.keep, Causal: true, Window: m.window}
	if err := m.attn.Attend(ctx, q, k, v, d, mask); err != nil {
		return err
	}
	tensor.Add(x, l.o.Forward(ctx, rows))

	hs = slices.Clone(x)
	l.postNorm.Forward(hs)
	gate := l.gate.Forward(hs, rows)
	up := l.up.Forward(hs, rows)
	for i := range gate {
		gate[i] = m.act(gate[i]) * up[i]
	}
	tensor.Add(x, l.down.Forward(gate, rows))
	return nil
}

func (m *mistral) Close() error {
	m.closeOnce.Do(func() {
		if m.store != nil {
			m.closeErr = m.store.Close()
		}
	})
	return m.closeErr
}
