// Package arch parses Hugging Face config.json documents into one of the
// model families the runtime can build.
package arch

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// Family is the model_type discriminator of a config document.
type Family string

const (
	Bert       Family = "bert"
	Camembert  Family = "camembert"
	Roberta    Family = "roberta"
	XLMRoberta Family = "xlm-roberta"
	DistilBert Family = "distilbert"
	Mistral    Family = "mistral"
)

// Families lists every recognized discriminator.
func Families() []Family {
	return []Family{Bert, Camembert, Roberta, XLMRoberta, DistilBert, Mistral}
}

// Config is a tagged union: exactly one of the family pointers is set,
// selected by Family. It is immutable after Parse apart from the
// accelerated-attention flag, which is written once before construction.
type Config struct {
	Family Family

	Bert       *BertConfig
	Camembert  *RobertaConfig
	Roberta    *RobertaConfig
	XLMRoberta *RobertaConfig
	DistilBert *DistilBertConfig
	Mistral    *MistralConfig

	flashOnce sync.Once
	flashSet  bool
	flash     bool
}

// Architectures returns the architectures list of the populated family.
func (c *Config) Architectures() []string {
	switch c.Family {
	case Bert:
		return c.Bert.Architectures
	case Camembert:
		return c.Camembert.Architectures
	case Roberta:
		return c.Roberta.Architectures
	case XLMRoberta:
		return c.XLMRoberta.Architectures
	case DistilBert:
		return c.DistilBert.Architectures
	case Mistral:
		return c.Mistral.Architectures
	}
	return nil
}

// NumLabels is the classification width of the populated family. Mistral
// has no classification head and reports 0.
func (c *Config) NumLabels() int {
	switch c.Family {
	case Bert:
		return c.Bert.NumLabels()
	case Camembert:
		return c.Camembert.NumLabels()
	case Roberta:
		return c.Roberta.NumLabels()
	case XLMRoberta:
		return c.XLMRoberta.NumLabels()
	case DistilBert:
		return c.DistilBert.NumLabels()
	}
	return 0
}

// HeadName is the first architectures entry, or "" when the list is empty.
func (c *Config) HeadName() string {
	if archs := c.Architectures(); len(archs) > 0 {
		return strings.TrimSpace(archs[0])
	}
	return ""
}

// SetFlashAttention records the resolved accelerated-attention policy. Only
// the first call has an effect; later calls return an error.
func (c *Config) SetFlashAttention(enabled bool) error {
	applied := false
	c.flashOnce.Do(func() {
		c.flash = enabled
		c.flashSet = true
		applied = true
	})
	if !applied {
		return errors.New("arch: accelerated attention flag already set")
	}
	return nil
}

// FlashAttention reports the recorded policy; false until set.
func (c *Config) FlashAttention() bool { return c.flashSet && c.flash }

type familyParser func(doc []byte, keys map[string]json.RawMessage, cfg *Config) error

var parsers = map[Family]familyParser{
	Bert:       parseBert,
	Camembert:  parseRoberta(Camembert),
	Roberta:    parseRoberta(Roberta),
	XLMRoberta: parseRoberta(XLMRoberta),
	DistilBert: parseDistilBert,
	Mistral:    parseMistral,
}

// Parse decodes a config document. The discriminator is read first; an
// absent or unknown model_type fails with ErrUnsupportedArchitecture and a
// family with missing or invalid fields fails with a *MalformedError.
func Parse(doc []byte) (*Config, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(doc, &keys); err != nil {
		return nil, &MalformedError{Field: "model_type", Err: err}
	}
	var modelType string
	if raw, ok := keys["model_type"]; ok {
		if err := json.Unmarshal(raw, &modelType); err != nil {
			return nil, &MalformedError{Field: "model_type", Err: err}
		}
	}
	if strings.TrimSpace(modelType) == "" {
		return nil, fmt.Errorf("%w: model_type is missing", ErrUnsupportedArchitecture)
	}
	family := normalizeFamily(modelType)
	parse, ok := parsers[family]
	if !ok {
		return nil, fmt.Errorf("%w: model_type %q", ErrUnsupportedArchitecture, modelType)
	}
	cfg := &Config{Family: family}
	if err := parse(doc, keys, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalizeFamily(modelType string) Family {
	s := strings.ToLower(strings.TrimSpace(modelType))
	return Family(strings.ReplaceAll(s, "_", "-"))
}

// decode unmarshals doc into dst and maps type errors to the offending field.
func decode(family Family, doc []byte, dst any) error {
	if err := json.Unmarshal(doc, dst); err != nil {
		field := ""
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field = typeErr.Field
		}
		return &MalformedError{Family: family, Field: field, Err: err}
	}
	return nil
}

func requireFields(family Family, keys map[string]json.RawMessage, fields ...string) error {
	for _, f := range fields {
		raw, ok := keys[f]
		if !ok || string(raw) == "null" {
			return &MalformedError{Family: family, Field: f, Err: errMissing}
		}
	}
	return nil
}

func positive(family Family, field string, v int) error {
	if v <= 0 {
		return malformed(family, field, "must be positive, got %d", v)
	}
	return nil
}

func nonNegative(family Family, field string, v int) error {
	if v < 0 {
		return malformed(family, field, "must not be negative, got %d", v)
	}
	return nil
}

func numLabels(id2label map[string]string, n int) int {
	if len(id2label) > 0 {
		return len(id2label)
	}
	if n > 0 {
		return n
	}
	return 2
}
