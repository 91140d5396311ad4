package httpbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/inference/inferencetest"
	"github.com/23skdu/longbow-kurdish/internal/language"
	"github.com/23skdu/longbow-kurdish/internal/translator"
)

func startSidecar(t *testing.T) (*inferencetest.Backend, *Backend) {
	t.Helper()
	fake := inferencetest.New()
	srv := httptest.NewServer(NewServer(fake).Handler())
	t.Cleanup(srv.Close)

	client := New(srv.URL+"/", 5*time.Second)
	t.Cleanup(func() { _ = client.Close() })
	return fake, client
}

var spec = inference.ModelSpec{
	Base:    inference.Source{ID: "facebook/nllb-200-distilled-600M", Revision: "main"},
	Adapter: inference.Source{ID: "junaid17/nllb-kurdish-lora", Revision: "main"},
	Device:  "cpu",
}

func TestLoadSendsSpec(t *testing.T) {
	fake, client := startSidecar(t)

	m, err := client.Load(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, spec, fake.Last().Spec)
	info := m.Info()
	assert.Equal(t, "fake-1", info.ID)
	assert.Equal(t, "cpu", info.Device)
	assert.Equal(t, spec.Base.ID, info.Base)
	assert.Equal(t, spec.Adapter.ID, info.Adapter)
}

func TestTranslateOverHTTPMatchesInProcess(t *testing.T) {
	fake, client := startSidecar(t)
	remote, err := client.Load(context.Background(), spec)
	require.NoError(t, err)
	local, err := fake.Load(context.Background(), spec)
	require.NoError(t, err)

	text := "hello, my name is junaid"
	want, err := translator.Translate(context.Background(), local, text, language.English, language.Kurdish, translator.DefaultOptions())
	require.NoError(t, err)
	got, err := translator.Translate(context.Background(), remote, text, language.English, language.Kurdish, translator.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, want, got)
	last := fake.Last().Generate
	assert.Equal(t, 4, last.NumBeams)
	assert.Equal(t, 256, last.MaxLength)
}

func TestEncodeRoundTrip(t *testing.T) {
	_, client := startSidecar(t)
	m, err := client.Load(context.Background(), spec)
	require.NoError(t, err)

	enc, err := m.Encode(context.Background(), "hi", inference.EncodeOptions{SourceLang: "eng_Latn", MaxLength: 256, Truncation: true})
	require.NoError(t, err)
	require.Len(t, enc.InputIDs, 1)
	assert.Len(t, enc.InputIDs[0], 4)
	assert.Equal(t, 4, enc.Len())
	assert.False(t, enc.Truncated)

	enc, err = m.Encode(context.Background(), "hello there", inference.EncodeOptions{SourceLang: "eng_Latn", MaxLength: 5, Truncation: true})
	require.NoError(t, err)
	assert.Len(t, enc.InputIDs[0], 5)
	assert.True(t, enc.Truncated)
}

func TestUnknownToken(t *testing.T) {
	_, client := startSidecar(t)
	m, err := client.Load(context.Background(), spec)
	require.NoError(t, err)

	_, err = m.TokenToID(context.Background(), "xyz_Nope")
	assert.ErrorIs(t, err, inference.ErrUnknownToken)
}

func TestBackendErrorsCarryMessage(t *testing.T) {
	fake, client := startSidecar(t)
	m, err := client.Load(context.Background(), spec)
	require.NoError(t, err)

	fake.Configure(func(b *inferencetest.Backend) { b.GenerateErr = errors.New("CUDA out of memory") })
	_, err = m.Generate(context.Background(), &inference.Encoding{InputIDs: [][]int32{{1}}}, inference.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.Contains(t, err.Error(), "500")
}

func TestLoadFailure(t *testing.T) {
	fake, client := startSidecar(t)
	fake.Configure(func(b *inferencetest.Backend) { b.LoadErr = errors.New("adapter weights not found") })

	_, err := client.Load(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter weights not found")
}

func TestUnknownModelID(t *testing.T) {
	_, client := startSidecar(t)
	m := &Model{backend: client, info: inference.ModelInfo{ID: "gone"}}

	_, err := m.Decode(context.Background(), []int32{1}, inference.DecodeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Load(context.Background(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestContextCancel(t *testing.T) {
	_, client := startSidecar(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Load(ctx, spec)
	assert.ErrorIs(t, err, context.Canceled)
}
