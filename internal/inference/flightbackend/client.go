// Package flightbackend talks to an inference server over Arrow Flight. Control
// calls are Flight actions with JSON bodies; token batches travel as Arrow records
// through DoExchange.
package flightbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-kurdish/internal/inference"
)

// Action types understood by the server.
const (
	ActionLoadModel = "load_model"
	ActionTokenize  = "tokenize"
	ActionTokenIDs  = "token_ids"
	ActionDecode    = "decode"
)

// exchangeCommand travels in the DoExchange flight descriptor.
type exchangeCommand struct {
	ModelID string `json:"model_id"`
	inference.GenerateOptions
}

type Backend struct {
	addr    string
	client  flight.Client
	mem     memory.Allocator
	timeout time.Duration
}

type Option func(*Backend)

func WithAllocator(mem memory.Allocator) Option {
	return func(b *Backend) { b.mem = mem }
}

// WithTimeout bounds each call that arrives without its own deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// New creates a client for the Flight server at addr ("host:port"; a grpc://
// prefix is accepted). The connection is established lazily.
func New(addr string, opts ...Option) (*Backend, error) {
	addr = strings.TrimPrefix(addr, "grpc://")
	addr = strings.TrimPrefix(addr, "grpc+tcp://")
	client, err := flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client for %s: %w", addr, err)
	}
	b := &Backend{addr: addr, client: client, mem: memory.DefaultAllocator}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// action runs a single-result action with a JSON request and response.
func (b *Backend) action(ctx context.Context, kind string, req, resp interface{}) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", kind, err)
	}
	stream, err := b.client.DoAction(ctx, &flight.Action{Type: kind, Body: body})
	if err != nil {
		return fmt.Errorf("%s: %w", kind, fromStatus(err))
	}
	res, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: server sent no result", kind)
		}
		return fmt.Errorf("%s: %w", kind, fromStatus(err))
	}
	if err := json.Unmarshal(res.Body, resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", kind, err)
	}
	return flight.ReadUntilEOF(stream)
}

// fromStatus maps grpc codes back to the errors callers test for.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	default:
		return err
	}
}

func (b *Backend) Load(ctx context.Context, spec inference.ModelSpec) (inference.Model, error) {
	var resp inference.LoadResponse
	if err := b.action(ctx, ActionLoadModel, inference.LoadRequest{ModelSpec: spec}, &resp); err != nil {
		return nil, err
	}
	if resp.ModelID == "" {
		return nil, fmt.Errorf("%s: server returned no model id", ActionLoadModel)
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
	if err := m.backend.action(ctx, ActionTokenize, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Encoding, nil
}

func (m *Model) TokenToID(ctx context.Context, token string) (int32, error) {
	var resp inference.TokenIDsResponse
	req := inference.TokenIDsRequest{ModelID: m.info.ID, Tokens: []string{token}}
	if err := m.backend.action(ctx, ActionTokenIDs, req, &resp); err != nil {
		return 0, err
	}
	if len(resp.IDs) != 1 || resp.IDs[0] < 0 {
		return 0, fmt.Errorf("%w: %q", inference.ErrUnknownToken, token)
	}
	return resp.IDs[0], nil
}

func (m *Model) Decode(ctx context.Context, ids []int32, opts inference.DecodeOptions) (string, error) {
	var resp inference.DecodeResponse
	req := inference.DecodeRequest{ModelID: m.info.ID, TokenIDs: ids, DecodeOptions: opts}
	if err := m.backend.action(ctx, ActionDecode, req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Generate streams the encoding to the server as one record batch and reads the
// generated sequences back from the same exchange.
func (m *Model) Generate(ctx context.Context, enc *inference.Encoding, opts inference.GenerateOptions) ([][]int32, error) {
	ctx, cancel := m.backend.withTimeout(ctx)
	defer cancel()

	cmd, err := json.Marshal(exchangeCommand{ModelID: m.info.ID, GenerateOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("generate: encode command: %w", err)
	}

	stream, err := m.backend.client.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", fromStatus(err))
	}

	rec := EncodingRecord(m.backend.mem, enc)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(EncodingSchema), ipc.WithAllocator(m.backend.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: cmd})
	if err := w.Write(rec); err != nil {
		// io.EOF means the server already ended the call; its status is on Recv.
		if errors.Is(err, io.EOF) {
			if _, rerr := stream.Recv(); rerr != nil && !errors.Is(rerr, io.EOF) {
				err = rerr
			}
		}
		return nil, fmt.Errorf("generate: write batch: %w", fromStatus(err))
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("generate: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("generate: close send: %w", err)
	}

	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(m.backend.mem))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", fromStatus(err))
	}
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("generate: read sequences: %w", fromStatus(err))
		}
		return nil, inference.ErrEmptyOutput
	}
	seqs, err := SequencesFromRecord(rdr.Record())
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(seqs) == 0 {
		return nil, inference.ErrEmptyOutput
	}
	return seqs, nil
}
