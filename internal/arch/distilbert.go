package arch

import json "github.com/goccy/go-json"

// DistilBertConfig uses the DistilBERT field names (dim, n_layers, ...).
type DistilBertConfig struct {
	VocabSize             int               `json:"vocab_size"`
	Dim                   int               `json:"dim"`
	NLayers               int               `json:"n_layers"`
	NHeads                int               `json:"n_heads"`
	HiddenDim             int               `json:"hidden_dim"`
	Activation            string            `json:"activation"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	PadTokenID            int               `json:"pad_token_id"`
	SinusoidalPosEmbds    bool              `json:"sinusoidal_pos_embds"`
	ID2Label              map[string]string `json:"id2label"`
	NumLabelsField        int               `json:"num_labels"`
	Architectures         []string          `json:"architectures"`
}

func (c *DistilBertConfig) NumLabels() int { return numLabels(c.ID2Label, c.NumLabelsField) }

func (c *DistilBertConfig) HeadDim() int { return c.Dim / c.NHeads }

func parseDistilBert(doc []byte, keys map[string]json.RawMessage, cfg *Config) error {
	c := &DistilBertConfig{Activation: "gelu"}
	if err := decode(DistilBert, doc, c); err != nil {
		return err
	}
	if err := requireFields(DistilBert, keys, "vocab_size", "dim", "n_layers", "n_heads"); err != nil {
		return err
	}
	if err := positive(DistilBert, "vocab_size", c.VocabSize); err != nil {
		return err
	}
	if err := positive(DistilBert, "dim", c.Dim); err != nil {
		return err
	}
	if err := positive(DistilBert, "n_heads", c.NHeads); err != nil {
		return err
	}
	if err := nonNegative(DistilBert, "n_layers", c.NLayers); err != nil {
		return err
	}
	if c.Dim%c.NHeads != 0 {
		return malformed(DistilBert, "n_heads", "dim %d is not divisible by %d heads", c.Dim, c.NHeads)
	}
	if c.NLayers > 0 {
		if err := requireFields(DistilBert, keys, "hidden_dim"); err != nil {
			return err
		}
		if err := positive(DistilBert, "hidden_dim", c.HiddenDim); err != nil {
			return err
		}
	}
	if err := nonNegative(DistilBert, "max_position_embeddings", c.MaxPositionEmbeddings); err != nil {
		return err
	}
	cfg.DistilBert = c
	return nil
}
