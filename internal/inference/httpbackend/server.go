package httpbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/23skdu/longbow-kurdish/internal/inference"
	"github.com/23skdu/longbow-kurdish/internal/logger"
)

// Server exposes any inference.Backend over the sidecar protocol. It lets one
// process front a backend for others and is what the client tests run against.
type Server struct {
	backend inference.Backend
	log     *logger.Logger

	mu     sync.RWMutex
	models map[string]inference.Model
}

func NewServer(backend inference.Backend) *Server {
	return &Server{
		backend: backend,
		log:     logger.Log.With("httpbackend"),
		models:  make(map[string]inference.Model),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathModels, s.handleLoad)
	mux.HandleFunc("POST "+PathTokenize, s.handleTokenize)
	mux.HandleFunc("POST "+PathTokenIDs, s.handleTokenIDs)
	mux.HandleFunc("POST "+PathGenerate, s.handleGenerate)
	mux.HandleFunc("POST "+PathDecode, s.handleDecode)
	return mux
}

var errUnknownModel = errors.New("unknown model id")

func (s *Server) model(id string) (inference.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownModel, id)
	}
	return m, nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, inference.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req inference.LoadRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.backend.Load(r.Context(), req.ModelSpec)
	if err != nil {
		s.log.Error("load failed", "base", req.Base.ID, "adapter", req.Adapter.ID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	info := m.Info()
	s.mu.Lock()
	s.models[info.ID] = m
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, inference.LoadResponse{ModelID: info.ID, Device: info.Device})
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req inference.TokenizeRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	enc, err := m.Encode(r.Context(), req.Text, req.EncodeOptions)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inference.TokenizeResponse{Encoding: *enc})
}

func (s *Server) handleTokenIDs(w http.ResponseWriter, r *http.Request) {
	var req inference.TokenIDsRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ids := make([]int32, len(req.Tokens))
	for i, tok := range req.Tokens {
		id, err := m.TokenToID(r.Context(), tok)
		switch {
		case errors.Is(err, inference.ErrUnknownToken):
			id = -1
		case err != nil:
			writeError(w, statusFor(err), err)
			return
		}
		ids[i] = id
	}
	writeJSON(w, http.StatusOK, inference.TokenIDsResponse{IDs: ids})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req inference.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	seqs, err := m.Generate(r.Context(), &req.Encoding, req.GenerateOptions)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inference.GenerateResponse{Sequences: seqs})
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req inference.DecodeRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.model(req.ModelID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	text, err := m.Decode(r.Context(), req.TokenIDs, req.DecodeOptions)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, inference.DecodeResponse{Text: text})
}
