// Package model builds runnable transformer models from a parsed config and
// a weight store.
package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/samcharles93/tether/internal/arch"
	"github.com/samcharles93/tether/internal/backend"
	"github.com/samcharles93/tether/internal/nn"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

// Model is a loaded network. Forward may be called concurrently; Close
// releases the weight store and must be called exactly once.
type Model interface {
	// InputNames lists the inputs Forward expects, in position order.
	InputNames() []string
	// Forward runs one pass. tokenTypeIDs may be nil.
	Forward(inputIDs, attentionMask, tokenTypeIDs *tensor.Tensor) (*tensor.Tensor, error)
	// Variant names the concrete implementation, e.g. "BertForSequenceClassification".
	Variant() string
	Close() error
}

// Options are resolved once per load and threaded into every constructor.
type Options struct {
	DType    tensor.DType
	Device   tensor.Device
	Features backend.Features
	// Threads bounds the goroutines used for attention heads. Zero or one
	// keeps the whole forward pass on the calling goroutine.
	Threads int
}

func (o Options) attention(cfg *arch.Config) nn.Attention {
	k := nn.Standard
	if cfg.FlashAttention() {
		k = nn.Flash
	}
	return nn.Attention{Kernel: k, Threads: o.Threads}
}

type constructor func(cfg *arch.Config, ws *weights.Store, opts Options) (Model, error)

type variants struct {
	name  string
	base  constructor
	heads map[string]constructor
}

var registry = map[arch.Family]variants{
	arch.Bert: {
		name:  bertNames.variant,
		base:  newEncoderBase(bertNames),
		heads: map[string]constructor{"BertForSequenceClassification": newEncoderClassifier(bertNames, bertPooler)},
	},
	arch.Roberta: {
		name:  robertaNames.variant,
		base:  newEncoderBase(robertaNames),
		heads: map[string]constructor{"RobertaForSequenceClassification": newEncoderClassifier(robertaNames, robertaHead)},
	},
	arch.XLMRoberta: {
		name:  xlmRobertaNames.variant,
		base:  newEncoderBase(xlmRobertaNames),
		heads: map[string]constructor{"XLMRobertaForSequenceClassification": newEncoderClassifier(xlmRobertaNames, robertaHead)},
	},
	arch.Camembert:  {name: camembertNames.variant, base: newEncoderBase(camembertNames)},
	arch.DistilBert: {name: distilBertNames.variant, base: newEncoderBase(distilBertNames)},
	arch.Mistral:    {name: mistralVariant, base: newMistral},
}

// Variants lists the head names recognized for family.
func Variants(family arch.Family) []string {
	return slices.Sorted(maps.Keys(registry[family].heads))
}

// VariantName is the variant Build would construct for cfg, without
// touching weights. It is "" for an unknown family.
func VariantName(cfg *arch.Config) string {
	v, ok := registry[cfg.Family]
	if !ok {
		return ""
	}
	if head := cfg.HeadName(); v.heads[head] != nil {
		return head
	}
	return v.name
}

// Build checks the device, records the accelerated-attention decision on cfg
// and constructs the variant selected by cfg's family and first architectures
// entry. An unrecognized head name builds the base variant.
func Build(cfg *arch.Config, ws *weights.Store, opts Options) (Model, error) {
	if !opts.Features.Supports(opts.Device) {
		return nil, fmt.Errorf("%w: %s (this build supports %s)", ErrUnsupportedDevice, opts.Device, opts.Features.Available())
	}
	v, ok := registry[cfg.Family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", arch.ErrUnsupportedArchitecture, cfg.Family)
	}
	if err := cfg.SetFlashAttention(opts.Features.FlashAttention(opts.DType)); err != nil {
		return nil, &ConstructionError{Family: cfg.Family, Variant: string(cfg.Family), Err: err}
	}
	build := v.base
	if head, ok := v.heads[cfg.HeadName()]; ok {
		build = head
	}
	return build(cfg, ws, opts)
}
