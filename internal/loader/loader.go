// Package loader owns the process-wide translation model. The model is built on
// first use, shared read-only by every session, and released at shutdown.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/23skdu/longbow-kurdish/internal/hub"
	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/metrics"
)

// ExpectedModelType is the config.json model_type of NLLB checkpoints.
const ExpectedModelType = "m2m_100"

type Stage string

const (
	StageBase    Stage = "base"
	StageAdapter Stage = "adapter"
	StageBackend Stage = "backend"
)

// ModelLoadError reports why the base model or adapter could not be made ready.
type ModelLoadError struct {
	Base    string
	Adapter string
	Stage   Stage
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s + %s: %s: %v", e.Base, e.Adapter, e.Stage, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

var ErrClosed = errors.New("loader closed")

type Options struct {
	BaseModel string
	Adapter   string
	Device    string
	// Timeout bounds one load attempt; zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Status is a point-in-time view for health checks.
type Status struct {
	Loaded   bool                 `json:"loaded"`
	Info     *inference.ModelInfo `json:"info,omitempty"`
	LastErr  string               `json:"last_error,omitempty"`
	Attempts int                  `json:"attempts"`
}

type Loader struct {
	backend  inference.Backend
	resolver *hub.Resolver
	opts     Options
	log      *logger.Logger

	group singleflight.Group

	mu       sync.RWMutex
	model    inference.Model
	lastErr  error
	attempts int
	closed   bool
}

func New(backend inference.Backend, resolver *hub.Resolver, opts Options) *Loader {
	if resolver == nil {
		resolver = hub.NewResolver("")
	}
	return &Loader{
		backend:  backend,
		resolver: resolver,
		opts:     opts,
		log:      logger.Log.With("loader"),
	}
}

// Load returns the cached model, building it on the first call. Concurrent first
// callers share one attempt. A failed attempt is not cached: the error is returned
// and the next call tries again. Load never returns a nil model with a nil error.
func (l *Loader) Load(ctx context.Context) (inference.Model, error) {
	l.mu.RLock()
	model, closed := l.model, l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if model != nil {
		return model, nil
	}

	ch := l.group.DoChan("model", func() (interface{}, error) {
		return l.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(inference.Model), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (inference.Model, error) {
	l.mu.RLock()
	if l.model != nil {
		model := l.model
		l.mu.RUnlock()
		return model, nil
	}
	l.mu.RUnlock()

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	model, err := l.build(ctx)
	elapsed := time.Since(start)
	metrics.RecordModelLoad(err, elapsed)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if err != nil {
		l.lastErr = err
		l.log.Error("model load failed", "base", l.opts.BaseModel, "adapter", l.opts.Adapter, "err", err, "took", elapsed)
		return nil, err
	}
	if l.closed {
		closeModel(model)
		return nil, ErrClosed
	}
	l.model = model
	l.lastErr = nil
	info := model.Info()
	l.log.Info("model loaded", "base", info.Base, "adapter", info.Adapter, "device", info.Device, "model_id", info.ID, "took", elapsed)
	return model, nil
}

func (l *Loader) build(ctx context.Context) (inference.Model, error) {
	fail := func(stage Stage, err error) error {
		return &ModelLoadError{Base: l.opts.BaseModel, Adapter: l.opts.Adapter, Stage: stage, Err: err}
	}

	base, err := l.resolver.Resolve(l.opts.BaseModel)
	if err != nil {
		return nil, fail(StageBase, err)
	}
	if base.Path != "" {
		if cfg, err := hub.ReadModelConfig(base.Path); err != nil {
			l.log.Warn("base model config unreadable", "path", base.Path, "err", err)
		} else if cfg.ModelType != ExpectedModelType {
			l.log.Warn("unexpected base model type", "model_type", cfg.ModelType, "want", ExpectedModelType)
		}
	}

	adapter, err := l.resolver.Resolve(l.opts.Adapter)
	if err != nil {
		return nil, fail(StageAdapter, err)
	}
	if adapter.Path != "" {
		cfg, err := hub.ReadAdapterConfig(adapter.Path)
		if err != nil {
			return nil, fail(StageAdapter, err)
		}
		if err := cfg.Validate(l.opts.BaseModel); err != nil {
			return nil, fail(StageAdapter, err)
		}
		l.log.Debug("adapter config", "r", cfg.R, "alpha", cfg.LoraAlpha, "targets", cfg.TargetModules)
	}

	spec := inference.ModelSpec{Base: base, Adapter: adapter, Device: l.opts.Device}
	l.log.Info("loading model", "base", base.ID, "base_path", base.Path, "adapter", adapter.ID, "adapter_path", adapter.Path)

	model, err := l.backend.Load(ctx, spec)
	if err != nil {
		return nil, fail(StageBackend, err)
	}
	if model == nil {
		return nil, fail(StageBackend, errors.New("backend returned no model"))
	}
	return model, nil
}

// Loaded returns the cached model without triggering a load.
func (l *Loader) Loaded() (inference.Model, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model, l.model != nil
}

func (l *Loader) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Status{Loaded: l.model != nil, Attempts: l.attempts}
	if l.model != nil {
		info := l.model.Info()
		st.Info = &info
	}
	if l.lastErr != nil {
		st.LastErr = l.lastErr.Error()
	}
	return st
}

// Close drops the cached model and closes it and the backend when they support it.
func (l *Loader) Close() error {
	l.mu.Lock()
	model := l.model
	l.model = nil
	l.closed = true
	l.mu.Unlock()

	metrics.RecordModelUnloaded()
	var errs []error
	if model != nil {
		errs = append(errs, closeModel(model))
	}
	if c, ok := l.backend.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func closeModel(m inference.Model) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
