package model

// encoderNames maps the encoder building blocks of a family to checkpoint
// tensor paths. Layer paths are relative to the layer scope.
type encoderNames struct {
	variant string
	// prefix is prepended by task-head exports ("bert.embeddings...").
	prefix string

	word      string
	position  string
	tokenType string
	embNorm   string

	layer    string
	query    string
	key      string
	value    string
	attnOut  string
	attnNorm string
	up       string
	down     string
	ffnNorm  string

	// offsetPositions numbers positions from pad_token_id+1 and gives
	// padding tokens the padding position.
	offsetPositions bool
}

var bertNames = &encoderNames{
	variant:   "BertModel",
	prefix:    "bert",
	word:      "embeddings.word_embeddings",
	position:  "embeddings.position_embeddings",
	tokenType: "embeddings.token_type_embeddings",
	embNorm:   "embeddings.LayerNorm",
	layer:     "encoder.layer.%d",
	query:     "attention.self.query",
	key:       "attention.self.key",
	value:     "attention.self.value",
	attnOut:   "attention.output.dense",
	attnNorm:  "attention.output.LayerNorm",
	up:        "intermediate.dense",
	down:      "output.dense",
	ffnNorm:   "output.LayerNorm",
}

var robertaNames = withVariant(bertNames, "RobertaModel", "roberta", true)

var xlmRobertaNames = withVariant(bertNames, "XLMRobertaModel", "roberta", true)

var camembertNames = withVariant(bertNames, "CamembertModel", "roberta", true)

var distilBertNames = &encoderNames{
	variant:  "DistilBertModel",
	prefix:   "distilbert",
	word:     "embeddings.word_embeddings",
	position: "embeddings.position_embeddings",
	embNorm:  "embeddings.LayerNorm",
	layer:    "transformer.layer.%d",
	query:    "attention.q_lin",
	key:      "attention.k_lin",
	value:    "attention.v_lin",
	attnOut:  "attention.out_lin",
	attnNorm: "sa_layer_norm",
	up:       "ffn.lin1",
	down:     "ffn.lin2",
	ffnNorm:  "output_layer_norm",
}

func withVariant(base *encoderNames, variant, prefix string, offsetPositions bool) *encoderNames {
	n := *base
	n.variant = variant
	n.prefix = prefix
	n.offsetPositions = offsetPositions
	return &n
}
