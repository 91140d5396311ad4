// Package inference defines the contract between the translator and the external
// runtime that owns the NLLB tokenizer, the model weights and beam search.
package inference

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownToken = errors.New("token not in vocabulary")
	ErrEmptyOutput  = errors.New("backend returned no sequences")
	ErrClosed       = errors.New("backend closed")
)

// Source identifies a model artifact. Path is set when the artifact was found on
// local disk; otherwise the backend resolves ID itself.
type Source struct {
	ID       string `json:"id"`
	Path     string `json:"path,omitempty"`
	Revision string `json:"revision,omitempty"`
}

type ModelSpec struct {
	Base    Source `json:"base"`
	Adapter Source `json:"adapter"`
	Device  string `json:"device,omitempty"`
}

type ModelInfo struct {
	ID       string    `json:"id"`
	Base     string    `json:"base"`
	Adapter  string    `json:"adapter"`
	Device   string    `json:"device"`
	LoadedAt time.Time `json:"loaded_at"`
}

type EncodeOptions struct {
	SourceLang string `json:"src_lang"`
	MaxLength  int    `json:"max_length"`
	Truncation bool   `json:"truncation"`
	Padding    bool   `json:"padding"`
}

// Encoding is a batch of token id rows with their attention masks. Truncated is
// set by the tokenizer when it dropped tokens to fit max_length.
type Encoding struct {
	InputIDs      [][]int32 `json:"input_ids"`
	AttentionMask [][]int32 `json:"attention_mask"`
	Truncated     bool      `json:"truncated,omitempty"`
}

// Len returns the number of attended tokens in the first row.
func (e *Encoding) Len() int {
	if e == nil || len(e.AttentionMask) == 0 {
		if e != nil && len(e.InputIDs) > 0 {
			return len(e.InputIDs[0])
		}
		return 0
	}
	n := 0
	for _, m := range e.AttentionMask[0] {
		if m != 0 {
			n++
		}
	}
	return n
}

type GenerateOptions struct {
	ForcedBOSTokenID int32 `json:"forced_bos_token_id"`
	MaxLength        int   `json:"max_length"`
	NumBeams         int   `json:"num_beams"`
}

type DecodeOptions struct {
	SkipSpecialTokens bool `json:"skip_special_tokens"`
}

type Tokenizer interface {
	Encode(ctx context.Context, text string, opts EncodeOptions) (*Encoding, error)
	Decode(ctx context.Context, ids []int32, opts DecodeOptions) (string, error)
	TokenToID(ctx context.Context, token string) (int32, error)
}

type Generator interface {
	// Generate returns the output sequences ordered best first.
	Generate(ctx context.Context, enc *Encoding, opts GenerateOptions) ([][]int32, error)
}

// Model is a base model with its adapter applied, plus the matching tokenizer.
type Model interface {
	Tokenizer
	Generator
	Info() ModelInfo
}

// Backend builds models. Implementations may also implement io.Closer.
type Backend interface {
	Load(ctx context.Context, spec ModelSpec) (Model, error)
}
