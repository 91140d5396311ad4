package flightbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/logger"
)

// Server serves an inference.Backend over Arrow Flight.
type Server struct {
	flight.BaseFlightServer

	backend inference.Backend
	mem     memory.Allocator
	log     *logger.Logger

	mu     sync.RWMutex
	models map[string]inference.Model
}

func NewServer(backend inference.Backend, mem memory.Allocator) *Server {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Server{
		backend: backend,
		mem:     mem,
		log:     logger.Log.With("flightbackend"),
		models:  make(map[string]inference.Model),
	}
}

// Listen registers s on a new Flight server bound to addr. The caller runs Serve
// and Shutdown on the result.
func Listen(addr string, s *Server) (flight.Server, error) {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return nil, fmt.Errorf("flight listen %s: %w", addr, err)
	}
	srv.RegisterFlightService(s)
	return srv, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) model(id string) (inference.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown model id %q", id)
	}
	return m, nil
}

func (s *Server) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for _, a := range []*flight.ActionType{
		{Type: ActionLoadModel, Description: "load a base model with its adapter"},
		{Type: ActionTokenize, Description: "encode text"},
		{Type: ActionTokenIDs, Description: "look up token ids"},
		{Type: ActionDecode, Description: "decode token ids"},
	} {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	ctx := stream.Context()
	var (
		resp interface{}
		err  error
	)
	switch action.Type {
	case ActionLoadModel:
		resp, err = s.loadModel(ctx, action.Body)
	case ActionTokenize:
		resp, err = s.tokenize(ctx, action.Body)
	case ActionTokenIDs:
		resp, err = s.tokenIDs(ctx, action.Body)
	case ActionDecode:
		resp, err = s.decode(ctx, action.Body)
	default:
		return status.Errorf(codes.Unimplemented, "unknown action %q", action.Type)
	}
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return err
		}
		return toStatus(err)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return status.Errorf(codes.Internal, "encode %s response: %v", action.Type, err)
	}
	return stream.Send(&flight.Result{Body: body})
}

func unmarshal(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) loadModel(ctx context.Context, body []byte) (interface{}, error) {
	var req inference.LoadRequest
	if err := unmarshal(body, &req); err != nil {
		return nil, err
	}
	m, err := s.backend.Load(ctx, req.ModelSpec)
	if err != nil {
		s.log.Error("load failed", "base", req.Base.ID, "adapter", req.Adapter.ID, "err", err)
		return nil, err
	}
	info := m.Info()
	s.mu.Lock()
	s.models[info.ID] = m
	s.mu.Unlock()
	return inference.LoadResponse{ModelID: info.ID, Device: info.Device}, nil
}

func (s *Server) tokenize(ctx context.Context, body []byte) (interface{}, error) {
	var req inference.TokenizeRequest
	if err := unmarshal(body, &req); err != nil {
		return nil, err
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		return nil, err
	}
	enc, err := m.Encode(ctx, req.Text, req.EncodeOptions)
	if err != nil {
		return nil, err
	}
	return inference.TokenizeResponse{Encoding: *enc}, nil
}

func (s *Server) tokenIDs(ctx context.Context, body []byte) (interface{}, error) {
	var req inference.TokenIDsRequest
	if err := unmarshal(body, &req); err != nil {
		return nil, err
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		return nil, err
	}
	ids := make([]int32, len(req.Tokens))
	for i, tok := range req.Tokens {
		id, err := m.TokenToID(ctx, tok)
		switch {
		case errors.Is(err, inference.ErrUnknownToken):
			id = -1
		case err != nil:
			return nil, err
		}
		ids[i] = id
	}
	return inference.TokenIDsResponse{IDs: ids}, nil
}

func (s *Server) decode(ctx context.Context, body []byte) (interface{}, error) {
	var req inference.DecodeRequest
	if err := unmarshal(body, &req); err != nil {
		return nil, err
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		return nil, err
	}
	text, err := m.Decode(ctx, req.TokenIDs, req.DecodeOptions)
	if err != nil {
		return nil, err
	}
	return inference.DecodeResponse{Text: text}, nil
}

// DoExchange reads one encoding batch, generates, and writes the sequences back.
// The generate options and model id come from the descriptor command.
func (s *Server) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read exchange: %v", err)
	}
	defer rdr.Release()

	desc := rdr.LatestFlightDescriptor()
	if desc == nil || desc.Type != flight.DescriptorCMD {
		return status.Error(codes.InvalidArgument, "exchange needs a command descriptor")
	}
	var cmd exchangeCommand
	if err := unmarshal(desc.Cmd, &cmd); err != nil {
		return err
	}
	m, err := s.model(cmd.ModelID)
	if err != nil {
		return err
	}

	if !rdr.Next() {
		return status.Error(codes.InvalidArgument, "exchange carried no record batch")
	}
	enc, err := EncodingFromRecord(rdr.Record())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode batch: %v", err)
	}

	seqs, err := m.Generate(stream.Context(), enc, cmd.GenerateOptions)
	if err != nil {
		return toStatus(err)
	}

	out := SequencesRecord(s.mem, seqs)
	defer out.Release()
	w := flight.NewRecordWriter(stream, ipc.WithSchema(SequencesSchema), ipc.WithAllocator(s.mem))
	if err := w.Write(out); err != nil {
		return err
	}
	return w.Close()
}
