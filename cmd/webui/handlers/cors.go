package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type CORSMiddleware struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &CORSMiddleware{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	}
}

// Middleware answers preflights and tags API responses for cross-origin callers.
// Listed origins may send the session cookie; the wildcard only opens the
// cookie-less API, so a foreign page cannot read a visitor's session.
func (m *CORSMiddleware) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
		case m.isListed(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case m.wildcard():
			h.Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", strings.Join(m.AllowedMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(m.AllowedHeaders, ", "))
			h.Set("Access-Control-Max-Age", strconv.Itoa(m.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// AllowsWebSocket reports whether a WebSocket upgrade from origin may attach to
// a session. Same-host pages and explicitly listed origins are accepted; the
// wildcard does not extend to cookie-bound sockets.
func (m *CORSMiddleware) AllowsWebSocket(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return m.isListed(origin)
}

func (m *CORSMiddleware) isListed(origin string) bool {
	for _, allowed := range m.AllowedOrigins {
		if allowed != "*" && strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (m *CORSMiddleware) wildcard() bool {
	for _, allowed := range m.AllowedOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}
