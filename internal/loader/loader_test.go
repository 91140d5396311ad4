package loader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-kurdish/internal/hub"
	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/inference/inferencetest"
)

const testBase = "facebook/nllb-200-distilled-600M"

func newLoader(t *testing.T, backend inference.Backend, adapter string) *Loader {
	t.Helper()
	return New(backend, hub.NewResolver(t.TempDir()), Options{
		BaseModel: testBase,
		Adapter:   adapter,
		Device:    "cpu",
		Timeout:   5 * time.Second,
	})
}

func writeAdapter(t *testing.T, base string) string {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(map[string]interface{}{
		"peft_type":               "LORA",
		"task_type":               "SEQ_2_SEQ_LM",
		"base_model_name_or_path": base,
		"r":                       16,
		"lora_alpha":              32,
		"target_modules":          []string{"q_proj", "v_proj"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, hub.AdapterConfigFile), data, 0o644))
	return dir
}

// gatedBackend blocks every Load until release is closed.
type gatedBackend struct {
	*inferencetest.Backend
	release chan struct{}
}

func (g *gatedBackend) Load(ctx context.Context, spec inference.ModelSpec) (inference.Model, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Backend.Load(ctx, spec)
}

type closingBackend struct {
	*inferencetest.Backend
	closed bool
}

func (c *closingBackend) Close() error {
	c.closed = true
	return nil
}

func TestLoadReturnsSameModel(t *testing.T) {
	backend := inferencetest.New()
	l := newLoader(t, backend, "junaid17/nllb-kurdish-lora")

	first, err := l.Load(context.Background())
	require.NoError(t, err)
	second, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), backend.Loads.Load())
	assert.Equal(t, testBase, backend.LastSpec.Base.ID)
	assert.Equal(t, "junaid17/nllb-kurdish-lora", backend.LastSpec.Adapter.ID)
	assert.Equal(t, "cpu", backend.LastSpec.Device)

	m, ok := l.Loaded()
	assert.True(t, ok)
	assert.Same(t, first, m)
}

func TestConcurrentFirstLoadsShareOneAttempt(t *testing.T) {
	gated := &gatedBackend{Backend: inferencetest.New(), release: make(chan struct{})}
	l := newLoader(t, gated, "junaid17/nllb-kurdish-lora")

	const callers = 8
	models := make([]inference.Model, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i], errs[i] = l.Load(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(gated.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, models[0], models[i])
	}
	assert.Equal(t, int64(1), gated.Loads.Load())
}

func TestFailedLoadIsNotCached(t *testing.T) {
	backend := inferencetest.New()
	backend.LoadErr = errors.New("out of memory")
	l := newLoader(t, backend, "junaid17/nllb-kurdish-lora")

	_, err := l.Load(context.Background())
	require.Error(t, err)

	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageBackend, loadErr.Stage)
	assert.Equal(t, testBase, loadErr.Base)
	assert.Contains(t, err.Error(), "out of memory")

	_, ok := l.Loaded()
	assert.False(t, ok)
	assert.Equal(t, "load model "+testBase+" + junaid17/nllb-kurdish-lora: backend: out of memory", l.Status().LastErr)

	backend.LoadErr = nil
	m, err := l.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), backend.Loads.Load())

	st := l.Status()
	assert.True(t, st.Loaded)
	assert.Empty(t, st.LastErr)
	assert.Equal(t, 2, st.Attempts)
}

func TestLocalAdapterIsValidated(t *testing.T) {
	backend := inferencetest.New()
	dir := writeAdapter(t, testBase)
	l := newLoader(t, backend, dir)

	_, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, backend.LastSpec.Adapter.Path)
}

func TestAdapterBaseMismatch(t *testing.T) {
	backend := inferencetest.New()
	l := newLoader(t, backend, writeAdapter(t, "facebook/nllb-200-3.3B"))

	_, err := l.Load(context.Background())
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageAdapter, loadErr.Stage)
	assert.Equal(t, int64(0), backend.Loads.Load())
}

func TestMissingLocalAdapter(t *testing.T) {
	backend := inferencetest.New()
	l := newLoader(t, backend, filepath.Join(t.TempDir(), "nllb_kurdish_lora_adapter"))

	_, err := l.Load(context.Background())
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageAdapter, loadErr.Stage)
	assert.ErrorIs(t, err, hub.ErrNotFound)
}

func TestInvalidBaseID(t *testing.T) {
	l := New(inferencetest.New(), hub.NewResolver(t.TempDir()), Options{BaseModel: "nllb", Adapter: "junaid17/nllb-kurdish-lora"})

	_, err := l.Load(context.Background())
	var loadErr *ModelLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageBase, loadErr.Stage)
	assert.ErrorIs(t, err, hub.ErrInvalidID)
}

func TestCallerCancelDoesNotAbortLoad(t *testing.T) {
	gated := &gatedBackend{Backend: inferencetest.New(), release: make(chan struct{})}
	l := newLoader(t, gated, "junaid17/nllb-kurdish-lora")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx)
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gated.release)
	m, err := l.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), gated.Loads.Load())
}

func TestClose(t *testing.T) {
	backend := &closingBackend{Backend: inferencetest.New()}
	l := newLoader(t, backend, "junaid17/nllb-kurdish-lora")

	_, err := l.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.True(t, backend.closed)
	_, ok := l.Loaded()
	assert.False(t, ok)
	_, err = l.Load(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
