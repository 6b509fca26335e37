package arch

import (
	"strings"

	json "github.com/goccy/go-json"
)

// BertConfig holds the hyperparameters shared by BERT-style encoders.
type BertConfig struct {
	VocabSize             int               `json:"vocab_size"`
	HiddenSize            int               `json:"hidden_size"`
	NumHiddenLayers       int               `json:"num_hidden_layers"`
	NumAttentionHeads     int               `json:"num_attention_heads"`
	IntermediateSize      int               `json:"intermediate_size"`
	HiddenAct             string            `json:"hidden_act"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	TypeVocabSize         int               `json:"type_vocab_size"`
	LayerNormEps          float64           `json:"layer_norm_eps"`
	PadTokenID            int               `json:"pad_token_id"`
	PositionEmbeddingType string            `json:"position_embedding_type"`
	ID2Label              map[string]string `json:"id2label"`
	NumLabelsField        int               `json:"num_labels"`
	Architectures         []string          `json:"architectures"`
}

// RobertaConfig is used by roberta, xlm-roberta and camembert. Positions
// start after the padding index.
type RobertaConfig struct {
	BertConfig
}

// NumLabels is the classification head width.
func (c *BertConfig) NumLabels() int { return numLabels(c.ID2Label, c.NumLabelsField) }

// HeadDim is hidden_size / num_attention_heads.
func (c *BertConfig) HeadDim() int { return c.HiddenSize / c.NumAttentionHeads }

func parseBert(doc []byte, keys map[string]json.RawMessage, cfg *Config) error {
	c := &BertConfig{
		HiddenAct:             "gelu",
		LayerNormEps:          1e-12,
		PositionEmbeddingType: "absolute",
	}
	if err := decodeBert(Bert, doc, keys, c); err != nil {
		return err
	}
	cfg.Bert = c
	return nil
}

func parseRoberta(family Family) familyParser {
	return func(doc []byte, keys map[string]json.RawMessage, cfg *Config) error {
		c := &RobertaConfig{BertConfig{
			HiddenAct:             "gelu",
			LayerNormEps:          1e-5,
			PadTokenID:            1,
			PositionEmbeddingType: "absolute",
		}}
		if err := decodeBert(family, doc, keys, &c.BertConfig); err != nil {
			return err
		}
		switch family {
		case Camembert:
			cfg.Camembert = c
		case XLMRoberta:
			cfg.XLMRoberta = c
		default:
			cfg.Roberta = c
		}
		return nil
	}
}

func decodeBert(family Family, doc []byte, keys map[string]json.RawMessage, c *BertConfig) error {
	if err := decode(family, doc, c); err != nil {
		return err
	}
	if err := requireFields(family, keys, "vocab_size", "hidden_size", "num_hidden_layers", "num_attention_heads"); err != nil {
		return err
	}
	if err := positive(family, "vocab_size", c.VocabSize); err != nil {
		return err
	}
	if err := positive(family, "hidden_size", c.HiddenSize); err != nil {
		return err
	}
	if err := positive(family, "num_attention_heads", c.NumAttentionHeads); err != nil {
		return err
	}
	if err := nonNegative(family, "num_hidden_layers", c.NumHiddenLayers); err != nil {
		return err
	}
	if c.HiddenSize%c.NumAttentionHeads != 0 {
		return malformed(family, "num_attention_heads", "hidden_size %d is not divisible by %d heads", c.HiddenSize, c.NumAttentionHeads)
	}
	if c.NumHiddenLayers > 0 {
		if err := requireFields(family, keys, "intermediate_size"); err != nil {
			return err
		}
		if err := positive(family, "intermediate_size", c.IntermediateSize); err != nil {
			return err
		}
	}
	if err := nonNegative(family, "max_position_embeddings", c.MaxPositionEmbeddings); err != nil {
		return err
	}
	if err := nonNegative(family, "type_vocab_size", c.TypeVocabSize); err != nil {
		return err
	}
	if c.LayerNormEps <= 0 {
		return malformed(family, "layer_norm_eps", "must be positive, got %g", c.LayerNormEps)
	}
	if pt := strings.ToLower(c.PositionEmbeddingType); pt != "" && pt != "absolute" {
		return malformed(family, "position_embedding_type", "%q is not supported", c.PositionEmbeddingType)
	}
	return nil
}
