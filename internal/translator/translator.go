// Package translator runs one translation through the loaded NLLB model: encode the
// source text, force the target language tag as the first output token, beam search,
// then decode the best sequence.
package translator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-kurdish/internal/config"
	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
)

type Stage string

const (
	StageEncode      Stage = "encode"
	StageTargetToken Stage = "target_token"
	StageGenerate    Stage = "generate"
	StageDecode      Stage = "decode"
)

// TranslationError reports which step of the pipeline failed.
type TranslationError struct {
	Stage  Stage
	Source language.Tag
	Target language.Tag
	Err    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %s->%s: %s: %v", e.Source, e.Target, e.Stage, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// Options are the fixed generation settings.
type Options struct {
	MaxInputTokens    int
	Truncation        bool
	Padding           bool
	MaxLength         int
	NumBeams          int
	SkipSpecialTokens bool
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxInputTokens:    cfg.MaxInputTokens,
		Truncation:        cfg.Truncation,
		Padding:           cfg.Padding,
		MaxLength:         cfg.MaxLength,
		NumBeams:          cfg.NumBeams,
		SkipSpecialTokens: cfg.SkipSpecialTokens,
	}
}

// Output carries the decoded text plus token counts for metrics.
type Output struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Truncated    bool
}

// Translate converts text from source to target. Empty text is not rejected here.
func Translate(ctx context.Context, model inference.Model, text string, source, target language.Tag, opts Options) (string, error) {
	out, err := run(ctx, model, text, source, target, opts)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func run(ctx context.Context, model inference.Model, text string, source, target language.Tag, opts Options) (Output, error) {
	fail := func(stage Stage, err error) (Output, error) {
		return Output{}, &TranslationError{Stage: stage, Source: source, Target: target, Err: err}
	}

	start := time.Now()
	enc, err := model.Encode(ctx, text, inference.EncodeOptions{
		SourceLang: string(source),
		MaxLength:  opts.MaxInputTokens,
		Truncation: opts.Truncation,
		Padding:    opts.Padding,
	})
	if err != nil {
		return fail(StageEncode, err)
	}
	if enc == nil || len(enc.InputIDs) == 0 {
		return fail(StageEncode, errors.New("tokenizer returned no input ids"))
	}
	metrics.RecordStage(string(StageEncode), time.Since(start))

	start = time.Now()
	bos, err := model.TokenToID(ctx, string(target))
	if err != nil {
		return fail(StageTargetToken, err)
	}
	metrics.RecordStage(string(StageTargetToken), time.Since(start))

	start = time.Now()
	seqs, err := model.Generate(ctx, enc, inference.GenerateOptions{
		ForcedBOSTokenID: bos,
		MaxLength:        opts.MaxLength,
		NumBeams:         opts.NumBeams,
	})
	if err != nil {
		return fail(StageGenerate, err)
	}
	if len(seqs) == 0 {
		return fail(StageGenerate, inference.ErrEmptyOutput)
	}
	metrics.RecordStage(string(StageGenerate), time.Since(start))

	start = time.Now()
	decoded, err := model.Decode(ctx, seqs[0], inference.DecodeOptions{SkipSpecialTokens: opts.SkipSpecialTokens})
	if err != nil {
		return fail(StageDecode, err)
	}
	metrics.RecordStage(string(StageDecode), time.Since(start))

	return Output{
		Text:         decoded,
		InputTokens:  enc.Len(),
		OutputTokens: len(seqs[0]),
		Truncated:    enc.Truncated,
	}, nil
}
