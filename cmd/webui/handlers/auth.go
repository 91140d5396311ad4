package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultRateLimit = 100

type APIKey struct {
	Key       string
	Name      string
	CreatedAt time.Time
	// ExpiresAt is zero for keys that never expire.
	ExpiresAt time.Time
	RateLimit int
}

// APIKeyManager holds the keys accepted by the JSON API and their per-minute
// request counters.
type APIKeyManager struct {
	mu      sync.RWMutex
	keys    map[string]*APIKey
	byName  map[string]*APIKey
	rateLim map[string]int
}

func NewAPIKeyManager() *APIKeyManager {
	return &APIKeyManager{
		keys:    make(map[string]*APIKey),
		byName:  make(map[string]*APIKey),
		rateLim: make(map[string]int),
	}
}

func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "kt_" + hex.EncodeToString(bytes), nil
}

// AddKey registers key under name. A zero ttl never expires.
func (m *APIKeyManager) AddKey(key, name string, ttl time.Duration, rateLimit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[name]; exists {
		return ErrAPIKeyExists
	}
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}

	now := time.Now()
	apiKey := &APIKey{
		Key:       key,
		Name:      name,
		CreatedAt: now,
		RateLimit: rateLimit,
	}
	if ttl > 0 {
		apiKey.ExpiresAt = now.Add(ttl)
	}

	m.keys[key] = apiKey
	m.byName[name] = apiKey
	return nil
}

func (m *APIKeyManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// ValidateKey compares key against every registered key in constant time.
func (m *APIKeyManager) ValidateKey(key string) (*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *APIKey
	for k, apiKey := range m.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			found = apiKey
		}
	}
	if found == nil {
		return nil, ErrInvalidAPIKey
	}

	if !found.ExpiresAt.IsZero() && time.Now().After(found.ExpiresAt) {
		return nil, ErrExpiredAPIKey
	}

	return found, nil
}

// CheckRateLimit counts one request for key in the current minute and reports
// whether it is within the key's limit.
func (m *APIKeyManager) CheckRateLimit(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := DefaultRateLimit
	if apiKey, ok := m.keys[key]; ok {
		limit = apiKey.RateLimit
	}

	now := time.Now().Unix()
	minuteKey := key + "_" + strconv.FormatInt(now/60, 10)

	count := m.rateLim[minuteKey]
	if count >= limit {
		return false
	}

	m.rateLim[minuteKey]++
	if len(m.rateLim) > 10000 {
		m.cleanupRateLim()
	}
	return true
}

func (m *APIKeyManager) cleanupRateLim() {
	now := time.Now().Unix()
	for k := range m.rateLim {
		i := strings.LastIndexByte(k, '_')
		minute, err := strconv.ParseInt(k[i+1:], 10, 64)
		if err != nil || now/60-minute > 5 {
			delete(m.rateLim, k)
		}
	}
}

type AuthMiddleware struct {
	Keys *APIKeyManager
}

// NewAuthMiddleware protects the API with apiKey. An empty key disables
// authentication.
func NewAuthMiddleware(apiKey string, rateLimit int) *AuthMiddleware {
	keys := NewAPIKeyManager()
	if apiKey != "" {
		keys.AddKey(apiKey, "default", 0, rateLimit)
	}
	return &AuthMiddleware{Keys: keys}
}

func (m *AuthMiddleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.Keys == nil || m.Keys.Len() == 0 {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			RecordError("auth")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "API key required"})
			return
		}

		if _, err := m.Keys.ValidateKey(apiKey); err != nil {
			RecordError("auth")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid API key"})
			return
		}

		if !m.Keys.CheckRateLimit(apiKey) {
			RecordError("rate_limit")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: ErrRateLimitExceeded.Error()})
			return
		}

		next.ServeHTTP(w, r)
	}
}

func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "ApiKey ") {
		return strings.TrimPrefix(authHeader, "ApiKey ")
	}

	apiKey := r.URL.Query().Get("api_key")
	if apiKey != "" {
		return apiKey
	}

	return ""
}

var (
	ErrAPIKeyExists      = errors.New("API key already exists")
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrExpiredAPIKey     = errors.New("expired API key")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
