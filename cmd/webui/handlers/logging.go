package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-kurdish/internal/logger"
)

type RequestLog struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Query         string    `json:"query,omitempty"`
	StatusCode    int       `json:"status_code"`
	Duration      float64   `json:"duration_ms"`
	ContentLength int       `json:"content_length"`
	UserAgent     string    `json:"user_agent,omitempty"`
	ClientIP      string    `json:"client_ip"`
}

type LoggingMiddleware struct {
	logger    *logger.Logger
	skipPaths map[string]bool
}

func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger.Log.With("http"),
		skipPaths: map[string]bool{
			"/health":      true,
			"/healthz":     true,
			"/readyz":      true,
			"/metrics":     true,
			"/favicon.ico": true,
			// Hijacked by the WebSocket upgrade; the wrapper below cannot hijack.
			"/ws": true,
		},
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (m *LoggingMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		start := time.Now()

		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RecordRequest(endpoint, rec.status, duration)

		entry := RequestLog{
			RequestID:     requestID,
			Timestamp:     start,
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			StatusCode:    rec.status,
			ContentLength: int(r.ContentLength),
			UserAgent:     r.UserAgent(),
			ClientIP:      r.RemoteAddr,
			Duration:      duration.Seconds() * 1000,
		}

		log := m.logger.Info
		if rec.status >= http.StatusInternalServerError {
			log = m.logger.Warn
		}
		log("HTTP Request",
			"request_id", entry.RequestID,
			"method", entry.Method,
			"path", entry.Path,
			"query", entry.Query,
			"status", entry.StatusCode,
			"duration_ms", entry.Duration,
			"content_length", entry.ContentLength,
			"user_agent", entry.UserAgent,
			"client_ip", entry.ClientIP,
		)
	}
}
