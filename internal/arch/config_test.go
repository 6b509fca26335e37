package arch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFamilies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		doc    string
		family Family
		check  func(t *testing.T, c *Config)
	}{
		{
			name:   "bert defaults",
			doc:    `{"model_type":"bert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2}`,
			family: Bert,
			check: func(t *testing.T, c *Config) {
				require.NotNil(t, c.Bert)
				assert.Equal(t, "gelu", c.Bert.HiddenAct)
				assert.Equal(t, 1e-12, c.Bert.LayerNormEps)
				assert.Equal(t, 4, c.Bert.HeadDim())
				assert.Equal(t, 2, c.Bert.NumLabels())
			},
		},
		{
			name:   "roberta pads from one",
			doc:    `{"model_type":"roberta","vocab_size":30,"hidden_size":8,"num_hidden_layers":1,"intermediate_size":16,"num_attention_heads":2,"id2label":{"0":"neg","1":"neu","2":"pos"}}`,
			family: Roberta,
			check: func(t *testing.T, c *Config) {
				require.NotNil(t, c.Roberta)
				assert.Equal(t, 1, c.Roberta.PadTokenID)
				assert.Equal(t, 3, c.Roberta.NumLabels())
			},
		},
		{
			name:   "xlm-roberta with underscore",
			doc:    `{"model_type":"XLM_Roberta","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2}`,
			family: XLMRoberta,
			check:  func(t *testing.T, c *Config) { require.NotNil(t, c.XLMRoberta) },
		},
		{
			name:   "camembert",
			doc:    `{"model_type":"camembert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2}`,
			family: Camembert,
			check:  func(t *testing.T, c *Config) { require.NotNil(t, c.Camembert) },
		},
		{
			name:   "distilbert",
			doc:    `{"model_type":"distilbert","vocab_size":30,"dim":8,"n_layers":0,"n_heads":2}`,
			family: DistilBert,
			check: func(t *testing.T, c *Config) {
				require.NotNil(t, c.DistilBert)
				assert.Equal(t, 4, c.DistilBert.HeadDim())
			},
		},
		{
			name:   "mistral grouped query",
			doc:    `{"model_type":"mistral","vocab_size":30,"hidden_size":16,"num_hidden_layers":0,"num_attention_heads":4,"num_key_value_heads":2,"sliding_window":null}`,
			family: Mistral,
			check: func(t *testing.T, c *Config) {
				require.NotNil(t, c.Mistral)
				assert.Equal(t, 4, c.Mistral.HeadDim())
				assert.Equal(t, 2, c.Mistral.NumKeyValueHeads)
				assert.Nil(t, c.Mistral.SlidingWindow)
				assert.Equal(t, "silu", c.Mistral.HiddenAct)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := Parse([]byte(tc.doc))
			require.NoError(t, err)
			assert.Equal(t, tc.family, c.Family)
			tc.check(t, c)
		})
	}
}

func TestParseExactlyOneVariant(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte(`{"model_type":"bert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2}`))
	require.NoError(t, err)
	assert.NotNil(t, c.Bert)
	assert.Nil(t, c.Roberta)
	assert.Nil(t, c.Camembert)
	assert.Nil(t, c.XLMRoberta)
	assert.Nil(t, c.DistilBert)
	assert.Nil(t, c.Mistral)
}

func TestParseUnsupportedArchitecture(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{
		`{"model_type":"mamba","hidden_size":8}`,
		`{"hidden_size":8}`,
		`{"model_type":""}`,
	} {
		c, err := Parse([]byte(doc))
		require.ErrorIs(t, err, ErrUnsupportedArchitecture, doc)
		assert.Nil(t, c)
		assert.False(t, errors.Is(err, ErrMalformed))
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"not json", `[1, 2`, "model_type"},
		{"missing hidden size", `{"model_type":"bert","vocab_size":30,"num_hidden_layers":0,"num_attention_heads":2}`, "hidden_size"},
		{"wrong type", `{"model_type":"bert","vocab_size":"big","hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2}`, ""},
		{"indivisible heads", `{"model_type":"bert","vocab_size":30,"hidden_size":9,"num_hidden_layers":0,"num_attention_heads":2}`, "num_attention_heads"},
		{"layers need ffn", `{"model_type":"roberta","vocab_size":30,"hidden_size":8,"num_hidden_layers":2,"num_attention_heads":2}`, "intermediate_size"},
		{"relative positions", `{"model_type":"bert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2,"position_embedding_type":"relative_key"}`, "position_embedding_type"},
		{"distilbert missing dim", `{"model_type":"distilbert","vocab_size":30,"n_layers":0,"n_heads":2}`, "dim"},
		{"mistral kv heads", `{"model_type":"mistral","vocab_size":30,"hidden_size":16,"num_hidden_layers":0,"num_attention_heads":4,"num_key_value_heads":3}`, "num_key_value_heads"},
		{"null required", `{"model_type":"mistral","vocab_size":null,"hidden_size":16,"num_hidden_layers":0,"num_attention_heads":4}`, "vocab_size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := Parse([]byte(tc.doc))
			require.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, c)
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			if tc.field != "" {
				assert.Equal(t, tc.field, me.Field)
			}
		})
	}
}

func TestHeadName(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte(`{"model_type":"bert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2,"architectures":["BertForSequenceClassification","BertModel"]}`))
	require.NoError(t, err)
	assert.Equal(t, "BertForSequenceClassification", c.HeadName())
	assert.Equal(t, 2, c.NumLabels())
	assert.Len(t, c.Architectures(), 2)

	c, err = Parse([]byte(`{"model_type":"bert","vocab_size":30,"hidden_size":8,"num_hidden_layers":0,"num_attention_heads":2,"architectures":[]}`))
	require.NoError(t, err)
	assert.Empty(t, c.HeadName())
}

func TestSetFlashAttentionOnce(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte(`{"model_type":"distilbert","vocab_size":30,"dim":8,"n_layers":0,"n_heads":2}`))
	require.NoError(t, err)
	assert.False(t, c.FlashAttention())

	require.NoError(t, c.SetFlashAttention(true))
	assert.True(t, c.FlashAttention())

	require.Error(t, c.SetFlashAttention(false))
	assert.True(t, c.FlashAttention())
}
