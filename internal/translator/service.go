package translator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrSameLanguage        = errors.New("source and target language are the same")
)

// ModelSource hands out the shared model, loading it on first use.
type ModelSource interface {
	Load(ctx context.Context) (inference.Model, error)
}

type Request struct {
	Text   string       `json:"text"`
	Source language.Tag `json:"source"`
	Target language.Tag `json:"target"`
}

type Result struct {
	Text         string        `json:"text"`
	Source       language.Tag  `json:"source"`
	Target       language.Tag  `json:"target"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Truncated    bool          `json:"truncated,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

type Service struct {
	models   ModelSource
	langs    *language.Table
	opts     Options
	sem      *semaphore.Weighted
	capacity int64
	pending  atomic.Int64
	log      *logger.Logger
}

// NewService builds a service that allows at most maxConcurrent generations at once.
func NewService(models ModelSource, langs *language.Table, opts Options, maxConcurrent int64) *Service {
	if langs == nil {
		langs = language.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		models:   models,
		langs:    langs,
		opts:     opts,
		sem:      semaphore.NewWeighted(maxConcurrent),
		capacity: maxConcurrent,
		log:      logger.Log.With("translator"),
	}
}

// Pending counts translations that are generating or waiting for a slot.
func (s *Service) Pending() int64 {
	return s.pending.Load()
}

// Capacity is the number of generations allowed at once.
func (s *Service) Capacity() int64 {
	return s.capacity
}

func (s *Service) Languages() *language.Table {
	return s.langs
}

// Translate validates the direction, obtains the model and runs the pipeline.
// Model load failures are returned unchanged.
func (s *Service) Translate(ctx context.Context, req Request) (Result, error) {
	dir := language.Direction{Source: req.Source, Target: req.Target}
	if !s.langs.Supports(req.Source) {
		return Result{}, fmt.Errorf("%w: source %q", ErrUnsupportedLanguage, req.Source)
	}
	if !s.langs.Supports(req.Target) {
		return Result{}, fmt.Errorf("%w: target %q", ErrUnsupportedLanguage, req.Target)
	}
	if req.Source == req.Target {
		return Result{}, fmt.Errorf("%w: %s", ErrSameLanguage, req.Source)
	}

	model, err := s.models.Load(ctx)
	if err != nil {
		metrics.RecordTranslation(dir.String(), "load_error", 0)
		return Result{}, err
	}

	s.pending.Add(1)
	defer s.pending.Add(-1)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		metrics.RecordTranslation(dir.String(), "canceled", 0)
		return Result{}, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	out, err := run(ctx, model, req.Text, req.Source, req.Target, s.opts)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordTranslation(dir.String(), "error", elapsed)
		s.log.Error("translation failed", "direction", dir.String(), "err", err, "took", elapsed)
		return Result{}, err
	}

	metrics.RecordTranslation(dir.String(), "success", elapsed)
	metrics.RecordTokens(out.InputTokens, out.OutputTokens, out.Truncated)
	if out.Truncated {
		s.log.Warn("input truncated", "direction", dir.String(), "max_input_tokens", s.opts.MaxInputTokens)
	}
	s.log.Debug("translated", "direction", dir.String(), "input_tokens", out.InputTokens, "output_tokens", out.OutputTokens, "took", elapsed)

	return Result{
		Text:         out.Text,
		Source:       req.Source,
		Target:       req.Target,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Truncated:    out.Truncated,
		Duration:     elapsed,
	}, nil
}
