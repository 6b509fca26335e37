package model

import (
	"fmt"
	"sync"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/nn"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

// encoderParams are the hyperparameters shared by the BERT-style families.
type encoderParams struct {
	vocab     int
	hidden    int
	layers    int
	heads     int
	ffn       int
	positions int
	typeVocab int
	eps       float64
	act       string
	pad       int64
	labels    int
}

func encoderParamsFor(cfg *arch.Config) (encoderParams, error) {
	var bc *arch.BertConfig
	switch cfg.Family {
	case arch.Bert:
		bc = cfg.Bert
	case arch.Roberta:
		bc = &cfg.Roberta.BertConfig
	case arch.XLMRoberta:
		bc = &cfg.XLMRoberta.BertConfig
	case arch.Camembert:
		bc = &cfg.Camembert.BertConfig
	case arch.DistilBert:
		dc := cfg.DistilBert
		return encoderParams{
			vocab:     dc.VocabSize,
			hidden:    dc.Dim,
			layers:    dc.NLayers,
			heads:     dc.NHeads,
			ffn:       dc.HiddenDim,
			positions: dc.MaxPositionEmbeddings,
			eps:       1e-12,
			act:       dc.Activation,
			pad:       int64(dc.PadTokenID),
			labels:    dc.NumLabels(),
		}, nil
	default:
		return encoderParams{}, fmt.Errorf("%s is not an encoder family", cfg.Family)
	}
	return encoderParams{
		vocab:     bc.VocabSize,
		hidden:    bc.HiddenSize,
		layers:    bc.NumHiddenLayers,
		heads:     bc.NumAttentionHeads,
		ffn:       bc.IntermediateSize,
		positions: bc.MaxPositionEmbeddings,
		typeVocab: bc.TypeVocabSize,
		eps:       bc.LayerNormEps,
		act:       bc.HiddenAct,
		pad:       int64(bc.PadTokenID),
		labels:    bc.NumLabels(),
	}, nil
}

type encoderLayer struct {
	query    *nn.Linear
	key      *nn.Linear
	value    *nn.Linear
	attnOut  *nn.Linear
	attnNorm *nn.LayerNorm
	up       *nn.Linear
	down     *nn.Linear
	ffnNorm  *nn.LayerNorm
}

// encoder is a post-norm transformer encoder with an optional pooled
// classification head.
type encoder struct {
	variant string
	p       encoderParams
	names   *encoderNames
	opts    Options
	attn    nn.Attention
	act     func(float32) float32

	word      *nn.Embedding
	position  *nn.Embedding
	tokenType *nn.Embedding
	embNorm   *nn.LayerNorm
	layers    []encoderLayer
	head      *poolerHead

	store     *weights.Store
	closeOnce sync.Once
	closeErr  error
}

func newEncoderBase(names *encoderNames) constructor {
	return func(cfg *arch.Config, ws *weights.Store, opts Options) (Model, error) {
		e, _, err := loadEncoder(cfg, ws, opts, names, names.variant)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

func newEncoderClassifier(names *encoderNames, load headLoader) constructor {
	return func(cfg *arch.Config, ws *weights.Store, opts Options) (Model, error) {
		variant := cfg.HeadName()
		e, sc, err := loadEncoder(cfg, ws, opts, names, variant)
		if err != nil {
			return nil, err
		}
		if e.head, err = load(ws.Root(), sc, e.p.hidden, e.p.labels); err != nil {
			return nil, &ConstructionError{Family: cfg.Family, Variant: variant, Err: err}
		}
		return e, nil
	}
}

// modelScope returns the scope holding the backbone: the root for bare
// exports, or the family prefix used by task-head checkpoints.
func modelScope(ws *weights.Store, prefix, probe string) weights.Scope {
	root := ws.Root()
	if root.Has(probe) {
		return root
	}
	if sc := root.Sub(prefix); sc.Has(probe) {
		return sc
	}
	return root
}

func loadEncoder(cfg *arch.Config, ws *weights.Store, opts Options, names *encoderNames, variant string) (*encoder, weights.Scope, error) {
	fail := func(err error) (*encoder, weights.Scope, error) {
		return nil, weights.Scope{}, &ConstructionError{Family: cfg.Family, Variant: variant, Err: err}
	}
	p, err := encoderParamsFor(cfg)
	if err != nil {
		return fail(err)
	}
	act, err := tensor.Activation(p.act)
	if err != nil {
		return fail(err)
	}
	e := &encoder{
		variant: variant,
		p:       p,
		names:   names,
		opts:    opts,
		attn:    opts.attention(cfg),
		act:     act,
		store:   ws,
	}

	sc := modelScope(ws, names.prefix, names.word+".weight")
	if e.word, err = nn.LoadEmbedding(sc.Sub(names.word), p.vocab, p.hidden); err != nil {
		return fail(err)
	}
	if p.positions > 0 {
		if e.position, err = nn.LoadEmbedding(sc.Sub(names.position), p.positions, p.hidden); err != nil {
			return fail(err)
		}
	}
	if p.typeVocab > 0 && names.tokenType != "" {
		if e.tokenType, err = nn.LoadEmbedding(sc.Sub(names.tokenType), p.typeVocab, p.hidden); err != nil {
			return fail(err)
		}
	}
	if e.embNorm, err = nn.LoadLayerNorm(sc.Sub(names.embNorm), p.hidden, p.eps); err != nil {
		return fail(err)
	}

	e.layers = make([]encoderLayer, p.layers)
	for i := range e.layers {
		if err := e.loadLayer(&e.layers[i], sc.Subf(names.layer, i)); err != nil {
			return fail(fmt.Errorf("layer %d: %w", i, err))
		}
	}
	return e, sc, nil
}

func (e *encoder) loadLayer(l *encoderLayer, sc weights.Scope) error {
	h, ffn, eps := e.p.hidden, e.p.ffn, e.p.eps
	var err error
	if l.query, err = nn.LoadLinear(sc.Sub(e.names.query), h, h); err != nil {
		return err
	}
	if l.key, err = nn.LoadLinear(sc.Sub(e.names.key), h, h); err != nil {
		return err
	}
	if l.value, err = nn.LoadLinear(sc.Sub(e.names.value), h, h); err != nil {
		return err
	}
	if l.attnOut, err = nn.LoadLinear(sc.Sub(e.names.attnOut), h, h); err != nil {
		return err
	}
	if l.attnNorm, err = nn.LoadLayerNorm(sc.Sub(e.names.attnNorm), h, eps); err != nil {
		return err
	}
	if l.up, err = nn.LoadLinear(sc.Sub(e.names.up), h, ffn); err != nil {
		return err
	}
	if l.down, err = nn.LoadLinear(sc.Sub(e.names.down), ffn, h); err != nil {
		return err
	}
	l.ffnNorm, err = nn.LoadLayerNorm(sc.Sub(e.names.ffnNorm), h, eps)
	return err
}

func (e *encoder) Variant() string { return e.variant }

func (e *encoder) InputNames() []string {
	names := []string{"input_ids", "attention_mask"}
	if e.tokenType != nil && e.tokenType.Rows > 1 {
		names = append(names, "token_type_ids")
	}
	return names
}

func (e *encoder) Forward(inputIDs, attentionMask, tokenTypeIDs *tensor.Tensor) (*tensor.Tensor, error) {
	b, err := readBatch(inputIDs, attentionMask, tokenTypeIDs)
	if err != nil {
		return nil, err
	}
	x, err := e.embed(b)
	if err != nil {
		return nil, err
	}
	for i := range e.layers {
		if x, err = e.forwardLayer(&e.layers[i], x, b); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}

	h := e.p.hidden
	if e.head == nil {
		return output(x, []int{b.n, b.seq, h}, e.opts)
	}
	cls := make([]float32, b.n*h)
	for n := range b.n {
		copy(cls[n*h:(n+1)*h], x[n*b.seq*h:])
	}
	return output(e.head.forward(cls, b.n), []int{b.n, e.head.labels}, e.opts)
}

func (e *encoder) embed(b *batch) ([]float32, error) {
	h := e.p.hidden
	x := make([]float32, b.tokens()*h)
	for n := range b.n {
		positions := e.positionIDs(b, n)
		for i := range b.seq {
			t := n*b.seq + i
			row := x[t*h : (t+1)*h]
			if err := e.word.AddTo(row, b.ids[t]); err != nil {
				return nil, fmt.Errorf("%w: input_ids: %w", ErrInvalidInput, err)
			}
			if e.position != nil {
				if err := e.position.AddTo(row, positions[i]); err != nil {
					return nil, fmt.Errorf("%w: position: %w", ErrInvalidInput, err)
				}
			}
			if e.tokenType != nil {
				var tt int64
				if b.types != nil {
					tt = b.types[t]
				}
				if err := e.tokenType.AddTo(row, tt); err != nil {
					return nil, fmt.Errorf("%w: token_type_ids: %w", ErrInvalidInput, err)
				}
			}
		}
	}
	e.embNorm.Forward(x)
	return x, nil
}

// positionIDs numbers the tokens of sequence n. Offset families count only
// non-padding tokens and start after the padding index.
func (e *encoder) positionIDs(b *batch, n int) []int64 {
	pos := make([]int64, b.seq)
	if !e.names.offsetPositions {
		for i := range pos {
			pos[i] = int64(i)
		}
		return pos
	}
	var count int64
	for i := range pos {
		if b.ids[n*b.seq+i] == e.p.pad {
			pos[i] = e.p.pad
			continue
		}
		count++
		pos[i] = e.p.pad + count
	}
	return pos
}

func (e *encoder) forwardLayer(l *encoderLayer, x []float32, b *batch) ([]float32, error) {
	rows := b.tokens()
	q := l.query.Forward(x, rows)
	k := l.key.Forward(x, rows)
	v := l.value.Forward(x, rows)

	ctx := make([]float32, rows*e.p.hidden)
	d := nn.Dims{Batch: b.n, Seq: b.seq, Heads: e.p.heads, KVHeads: e.p.heads, HeadDim: e.p.hidden / e.p.heads}
	if err := e.attn.Attend(ctx, q, k, v, d, nn.Mask{Keep: b.keep}); err != nil {
		return nil, err
	}

	attn := l.attnOut.Forward(ctx, rows)
	tensor.Add(attn, x)
	l.attnNorm.Forward(attn)

	ff := l.up.Forward(attn, rows)
	nn.Activate(ff, e.act)
	out := l.down.Forward(ff, rows)
	tensor.Add(out, attn)
	l.ffnNorm.Forward(out)
	return out, nil
}

func (e *encoder) Close() error {
	e.closeOnce.Do(func() {
		if e.store != nil {
			e.closeErr = e.store.Close()
		}
	})
	return e.closeErr
}
