// Package engine assembles the translation stack for the web UI: the inference
// backend, the shared model loader and the translation service.
package engine

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-kurdish/internal/config"
	"github.com/23skdu/longbow-kurdish/internal/hub"
	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/inference/flightbackend"
	"github.com/23skdu/longbow-kurdish/internal/inference/httpbackend"
	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/loader"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/translator"
)

type Engine struct {
	Backend    inference.Backend
	Loader     *loader.Loader
	Translator *translator.Service
	Languages  *language.Table
}

// NewBackend connects to the inference runtime named by cfg.Backend.
func NewBackend(cfg config.Config) (inference.Backend, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return httpbackend.New(cfg.BackendAddr, cfg.BackendTimeout), nil
	case config.BackendFlight:
		b, err := flightbackend.New(cfg.BackendAddr, flightbackend.WithTimeout(cfg.BackendTimeout))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func New(cfg config.Config) (*Engine, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, backend), nil
}

// NewWithBackend wires the loader and service around an existing backend.
func NewWithBackend(cfg config.Config, backend inference.Backend) *Engine {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		dir, err := hub.DefaultCacheDir()
		if err != nil {
			logger.Log.Warn("no hub cache directory, models resolve by id only", "err", err)
		}
		cacheDir = dir
	}

	l := loader.New(backend, hub.NewResolver(cacheDir), loader.Options{
		BaseModel: cfg.BaseModel,
		Adapter:   cfg.Adapter,
		Device:    cfg.Device,
		Timeout:   cfg.LoadTimeout,
	})
	langs := language.Default()
	return &Engine{
		Backend:    backend,
		Loader:     l,
		Translator: translator.NewService(l, langs, translator.OptionsFromConfig(cfg), cfg.MaxConcurrent),
		Languages:  langs,
	}
}

// Preload loads the model ahead of the first request.
func (e *Engine) Preload(ctx context.Context) error {
	_, err := e.Loader.Load(ctx)
	return err
}

// Close releases the model and the backend connection.
func (e *Engine) Close() error {
	return e.Loader.Close()
}
