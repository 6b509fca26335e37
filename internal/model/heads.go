package model

import (
	"github.com/samcharles93/tether/internal/nn"
	"github.com/samcharles93/tether/internal/tensor"
	"github.com/samcharles93/tether/internal/weights"
)

// poolerHead projects the first token through dense+tanh and then to the
// label logits.
type poolerHead struct {
	dense  *nn.Linear
	out    *nn.Linear
	labels int
}

// headLoader reads a classification head. root is the unprefixed checkpoint
// scope and backbone the scope the encoder was loaded from.
type headLoader func(root, backbone weights.Scope, hidden, labels int) (*poolerHead, error)

// bertPooler reads <backbone>.pooler.dense and the top-level classifier.
func bertPooler(root, backbone weights.Scope, hidden, labels int) (*poolerHead, error) {
	dense, err := nn.LoadLinear(backbone.Sub("pooler.dense"), hidden, hidden)
	if err != nil {
		return nil, err
	}
	out, err := nn.LoadLinear(root.Sub("classifier"), hidden, labels)
	if err != nil {
		return nil, err
	}
	return &poolerHead{dense: dense, out: out, labels: labels}, nil
}

// robertaHead reads classifier.dense and classifier.out_proj.
func robertaHead(root, _ weights.Scope, hidden, labels int) (*poolerHead, error) {
	dense, err := nn.LoadLinear(root.Sub("classifier.dense"), hidden, hidden)
	if err != nil {
		return nil, err
	}
	out, err := nn.LoadLinear(root.Sub("classifier.out_proj"), hidden, labels)
	if err != nil {
		return nil, err
	}
	return &poolerHead{dense: dense, out: out, labels: labels}, nil
}

func (p *poolerHead) forward(cls []float32, rows int) []float32 {
	h := p.dense.Forward(cls, rows)
	nn.Activate(h, tensor.Tanh)
	return p.out.Forward(h, rows)
}
