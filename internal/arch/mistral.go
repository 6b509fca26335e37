package arch

import json "github.com/goccy/go-json"

// MistralConfig describes the decoder-only Mistral family.
type MistralConfig struct {
	VocabSize             int          `json:"vocab_size"`
	HiddenSize            int          `json:"hidden_size"`
	IntermediateSize      int          `json:"intermediate_size"`
	NumHiddenLayers       int          `json:"num_hidden_layers"`
	NumAttentionHeads     int          `json:"num_attention_heads"`
	NumKeyValueHeads      int          `json:"num_key_value_heads"`
	HeadDimField          int          `json:"head_dim"`
	HiddenAct             string       `json:"hidden_act"`
	MaxPositionEmbeddings int          `json:"max_position_embeddings"`
	RMSNormEps            float64      `json:"rms_norm_eps"`
	RopeTheta             float64      `json:"rope_theta"`
	SlidingWindow         *int         `json:"sliding_window"`
	RopeScaling           *RopeScaling `json:"rope_scaling"`
	Architectures         []string     `json:"architectures"`
}

// RopeScaling is the rope_scaling block. Only linear, llama3 and yarn are
// applied; other types load without scaling.
type RopeScaling struct {
	Type                          string  `json:"type"`
	RopeType                      string  `json:"rope_type"`
	Factor                        float64 `json:"factor"`
	OriginalMaxPositionEmbeddings int     `json:"original_max_position_embeddings"`
	LowFreqFactor                 float64 `json:"low_freq_factor"`
	HighFreqFactor                float64 `json:"high_freq_factor"`
	AttentionFactor               float64 `json:"attention_factor"`
	BetaFast                      float64 `json:"beta_fast"`
	BetaSlow                      float64 `json:"beta_slow"`
	MScale                        float64 `json:"mscale"`
	MScaleAllDim                  float64 `json:"mscale_all_dim"`
	Truncate                      *bool   `json:"truncate"`
}

// HeadDim falls back to hidden_size / num_attention_heads when head_dim is unset.
func (c *MistralConfig) HeadDim() int {
	if c.HeadDimField > 0 {
		return c.HeadDimField
	}
	return c.HiddenSize / c.NumAttentionHeads
}

func parseMistral(doc []byte, keys map[string]json.RawMessage, cfg *Config) error {
	c := &MistralConfig{
		HiddenAct:  "silu",
		RMSNormEps: 1e-6,
		RopeTheta:  10000,
	}
	if err := decode(Mistral, doc, c); err != nil {
		return err
	}
	if err := requireFields(Mistral, keys, "vocab_size", "hidden_size", "num_hidden_layers", "num_attention_heads"); err != nil {
		return err
	}
	if err := positive(Mistral, "vocab_size", c.VocabSize); err != nil {
		return err
	}
	if err := positive(Mistral, "hidden_size", c.HiddenSize); err != nil {
		return err
	}
	if err := positive(Mistral, "num_attention_heads", c.NumAttentionHeads); err != nil {
		return err
	}
	if err := nonNegative(Mistral, "num_hidden_layers", c.NumHiddenLayers); err != nil {
		return err
	}
	if c.NumKeyValueHeads == 0 {
		c.NumKeyValueHeads = c.NumAttentionHeads
	}
	if c.NumKeyValueHeads < 0 || c.NumAttentionHeads%c.NumKeyValueHeads != 0 {
		return malformed(Mistral, "num_key_value_heads", "%d does not divide %d attention heads", c.NumKeyValueHeads, c.NumAttentionHeads)
	}
	if c.HeadDimField == 0 && c.HiddenSize%c.NumAttentionHeads != 0 {
		return malformed(Mistral, "num_attention_heads", "hidden_size %d is not divisible by %d heads", c.HiddenSize, c.NumAttentionHeads)
	}
	if c.HeadDim()%2 != 0 {
		return malformed(Mistral, "head_dim", "rotary embeddings need an even head_dim, got %d", c.HeadDim())
	}
	if c.NumHiddenLayers > 0 {
		if err := requireFields(Mistral, keys, "intermediate_size"); err != nil {
			return err
		}
		if err := positive(Mistral, "intermediate_size", c.IntermediateSize); err != nil {
			return err
		}
	}
	if c.RMSNormEps <= 0 {
		return malformed(Mistral, "rms_norm_eps", "must be positive, got %g", c.RMSNormEps)
	}
	if c.SlidingWindow != nil && *c.SlidingWindow < 0 {
		return malformed(Mistral, "sliding_window", "must not be negative, got %d", *c.SlidingWindow)
	}
	if c.RopeTheta <= 0 {
		return malformed(Mistral, "rope_theta", "must be positive, got %g", c.RopeTheta)
	}
	cfg.Mistral = c
	return nil
}
