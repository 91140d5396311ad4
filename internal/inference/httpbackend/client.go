// Package httpbackend talks to an inference sidecar over JSON/HTTP.
package httpbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/23skdu/longbow-kurdish/internal/inference"
)

const (
	PathModels   = "/v1/models"
	PathTokenize = "/v1/tokenize"
	PathTokenIDs = "/v1/tokens/ids"
	PathGenerate = "/v1/generate"
	PathDecode   = "/v1/decode"
)

type Backend struct {
	BaseURL string
	http    *resty.Client
}

// New returns a backend for the sidecar at baseURL. timeout bounds each call.
func New(baseURL string, timeout time.Duration) *Backend {
	base := strings.TrimRight(baseURL, "/")
	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Backend{BaseURL: base, http: c}
}

func (b *Backend) post(ctx context.Context, path string, body, result interface{}) error {
	var apiErr inference.ErrorResponse
	r, err := b.http.R().SetContext(ctx).SetBody(body).SetResult(result).SetError(&apiErr).Post(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if r.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s: %s", path, r.Status(), apiErr.Error)
		}
		return fmt.Errorf("%s: %s; body: %s", path, r.Status(), r.String())
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, spec inference.ModelSpec) (inference.Model, error) {
	var resp inference.LoadResponse
	if err := b.post(ctx, PathModels, inference.LoadRequest{ModelSpec: spec}, &resp); err != nil {
		return nil, err
	}
	if resp.ModelID == "" {
		return nil, fmt.Errorf("%s: sidecar returned no model id", PathModels)
	}
	return &Model{
		backend: b,
		info: inference.ModelInfo{
			ID:       resp.ModelID,
			Base:     spec.Base.ID,
			Adapter:  spec.Adapter.ID,
			Device:   resp.Device,
			LoadedAt: time.Now(),
		},
	}, nil
}

func (b *Backend) Close() error {
	b.http.GetClient().CloseIdleConnections()
	return nil
}

// Model is a handle to a model held by the sidecar.
type Model struct {
	backend *Backend
	info    inference.ModelInfo
}

func (m *Model) Info() inference.ModelInfo {
	return m.info
}

func (m *Model) Encode(ctx context.Context, text string, opts inference.EncodeOptions) (*inference.Encoding, error) {
	var resp inference.TokenizeResponse
	req := inference.TokenizeRequest{ModelID: m.info.ID, Text: text, EncodeOptions: opts}
	if err := m.backend.post(ctx, PathTokenize, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Encoding, nil
}

func (m *Model) TokenToID(ctx context.Context, token string) (int32, error) {
	var resp inference.TokenIDsResponse
	req := inference.TokenIDsRequest{ModelID: m.info.ID, Tokens: []string{token}}
	if err := m.backend.post(ctx, PathTokenIDs, req, &resp); err != nil {
		return 0, err
	}
	if len(resp.IDs) != 1 || resp.IDs[0] < 0 {
		return 0, fmt.Errorf("%w: %q", inference.ErrUnknownToken, token)
	}
	return resp.IDs[0], nil
}

func (m *Model) Generate(ctx context.Context, enc *inference.Encoding, opts inference.GenerateOptions) ([][]int32, error) {
	var resp inference.GenerateResponse
	req := inference.GenerateRequest{ModelID: m.info.ID, Encoding: *enc, GenerateOptions: opts}
	if err := m.backend.post(ctx, PathGenerate, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Sequences) == 0 {
		return nil, inference.ErrEmptyOutput
	}
	return resp.Sequences, nil
}

func (m *Model) Decode(ctx context.Context, ids []int32, opts inference.DecodeOptions) (string, error) {
	var resp inference.DecodeResponse
	req := inference.DecodeRequest{ModelID: m.info.ID, TokenIDs: ids, DecodeOptions: opts}
	if err := m.backend.post(ctx, PathDecode, req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}
