package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/23skdu/longbow-kurdish/cmd/webui/config"
	"github.com/23skdu/longbow-kurdish/cmd/webui/engine"
	"github.com/23skdu/longbow-kurdish/cmd/webui/handlers"
	"github.com/23skdu/longbow-kurdish/internal/inference/inferencetest"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

func newApp(t *testing.T, fake *inferencetest.Backend, mutate func(*config.Config)) *handlers.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Translation.CacheDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	eng := engine.NewWithBackend(cfg.Translation, fake)
	t.Cleanup(func() { eng.Close() })
	return handlers.NewApp(cfg, eng, session.NewStore(eng.Languages, cfg.SessionTTL))
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handlers.HealthHandler(handlers.Probes{})(w, req)
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.StatusCode)
	}

	var healthStatus handlers.HealthStatus
	if err := json.NewDecoder(res.Body).Decode(&healthStatus); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthStatus.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", healthStatus.Status)
	}

	if healthStatus.Version == "" {
		t.Error("Expected version to be set")
	}

	if healthStatus.Uptime == "" {
		t.Error("Expected uptime to be set")
	}

	for _, name := range []string{"model", "translations", "sessions"} {
		if _, ok := healthStatus.Checks[name]; !ok {
			t.Errorf("Expected a %s check", name)
		}
	}
}

type stubQueue struct{ pending, capacity int64 }

func (q stubQueue) Pending() int64  { return q.pending }
func (q stubQueue) Capacity() int64 { return q.capacity }

func TestTranslationBacklog(t *testing.T) {
	tests := []struct {
		name      string
		queue     stubQueue
		wantReady bool
	}{
		{name: "Idle", queue: stubQueue{0, 1}, wantReady: true},
		{name: "Saturated within backlog", queue: stubQueue{1 + handlers.MaxBacklog, 1}, wantReady: true},
		{name: "Backlog exceeded", queue: stubQueue{2 + handlers.MaxBacklog, 1}, wantReady: false},
		{name: "Backlog scales with slots", queue: stubQueue{2 + handlers.MaxBacklog, 2}, wantReady: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probes := handlers.Probes{Queue: tt.queue}

			w := httptest.NewRecorder()
			handlers.ReadyzHandler(probes)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if ready := w.Code == http.StatusOK; ready != tt.wantReady {
				t.Errorf("Expected ready=%v, got status %d: %s", tt.wantReady, w.Code, w.Body.String())
			}

			w = httptest.NewRecorder()
			handlers.HealthHandler(probes)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			var health handlers.HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			want := "healthy"
			if !tt.wantReady {
				want = "degraded"
			}
			if health.Status != want {
				t.Errorf("Expected health '%s', got '%s'", want, health.Status)
			}
		})
	}
}

func TestHealthReportsSessions(t *testing.T) {
	app := newApp(t, inferencetest.New(), nil)
	app.Sessions.Create()
	app.Sessions.Create()

	w := httptest.NewRecorder()
	handlers.HealthHandler(app.Probes())(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health handlers.HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got := health.Checks["sessions"].Message; got != "2 active" {
		t.Errorf("Expected '2 active', got '%s'", got)
	}
	if got := health.Checks["translations"].Message; got != "0 running, 0 waiting, 1 slots" {
		t.Errorf("Unexpected translations check '%s'", got)
	}
}

func TestHealthzHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handlers.HealthzHandler()(w, req)
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.StatusCode)
	}

	body := w.Body.String()
	if body != "OK\n" {
		t.Errorf("Expected 'OK\\n', got '%s'", body)
	}
}

func readyz(t *testing.T, app *handlers.App) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	handlers.ReadyzHandler(app.Probes())(w, req)
	return w
}

func TestReadyzHandler(t *testing.T) {
	fake := inferencetest.New()
	app := newApp(t, fake, nil)

	w := readyz(t, app)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 before the first load, got %d", w.Code)
	}
	if body := w.Body.String(); body != "Ready\n" {
		t.Errorf("Expected 'Ready\\n', got '%s'", body)
	}

	fake.Configure(func(b *inferencetest.Backend) { b.LoadErr = errors.New("adapter weights missing") })
	if err := app.Engine.Preload(context.Background()); err == nil {
		t.Fatal("Expected preload to fail")
	}

	w = readyz(t, app)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503 after a failed load, got %d", w.Code)
	}
	var body struct {
		Status string                     `json:"status"`
		Checks map[string]handlers.Status `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Checks["model"].Status != "unhealthy" {
		t.Errorf("Expected model check 'unhealthy', got '%s'", body.Checks["model"].Status)
	}
	if !strings.Contains(body.Checks["model"].Message, "adapter weights missing") {
		t.Errorf("Expected the load error in the model check, got '%s'", body.Checks["model"].Message)
	}

	fake.Configure(func(b *inferencetest.Backend) { b.LoadErr = nil })
	if err := app.Engine.Preload(context.Background()); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if w := readyz(t, app); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after a successful load, got %d", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	w := httptest.NewRecorder()

	handlers.VersionHandler()(w, req)
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", res.StatusCode)
	}

	var versionInfo handlers.VersionInfo
	if err := json.NewDecoder(res.Body).Decode(&versionInfo); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if versionInfo.Version == "" {
		t.Error("Expected version to be set")
	}

	if versionInfo.GoVersion == "" {
		t.Error("Expected go_version to be set")
	}
}

func TestAPIKeyManager(t *testing.T) {
	manager := handlers.NewAPIKeyManager()

	key, err := handlers.GenerateAPIKey()
	if err != nil {
		t.Fatalf("Failed to generate API key: %v", err)
	}

	if !strings.HasPrefix(key, "kt_") {
		t.Errorf("Expected key to start with 'kt_', got '%s'", key)
	}

	err = manager.AddKey(key, "test-key", time.Hour, 100)
	if err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}

	if err := manager.AddKey("other", "test-key", time.Hour, 100); !errors.Is(err, handlers.ErrAPIKeyExists) {
		t.Errorf("Expected ErrAPIKeyExists, got %v", err)
	}

	validKey, err := manager.ValidateKey(key)
	if err != nil {
		t.Fatalf("Failed to validate key: %v", err)
	}

	if validKey.Name != "test-key" {
		t.Errorf("Expected name 'test-key', got '%s'", validKey.Name)
	}

	if _, err := manager.ValidateKey(key + "x"); !errors.Is(err, handlers.ErrInvalidAPIKey) {
		t.Errorf("Expected ErrInvalidAPIKey for an unknown key, got %v", err)
	}
}

func TestAPIKeyExpiry(t *testing.T) {
	manager := handlers.NewAPIKeyManager()
	if err := manager.AddKey("short", "short", time.Nanosecond, 10); err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}
	if err := manager.AddKey("forever", "forever", 0, 10); err != nil {
		t.Fatalf("Failed to add key: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, err := manager.ValidateKey("short"); !errors.Is(err, handlers.ErrExpiredAPIKey) {
		t.Errorf("Expected ErrExpiredAPIKey, got %v", err)
	}
	if _, err := manager.ValidateKey("forever"); err != nil {
		t.Errorf("Expected key without ttl to stay valid, got %v", err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		apiKey         string
		authHeader     string
		queryParam     string
		expectedStatus int
	}{
		{
			name:           "No authentication required",
			apiKey:         "",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Valid API key in header",
			apiKey:         "test-api-key",
			authHeader:     "ApiKey test-api-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Invalid API key",
			apiKey:         "test-api-key",
			authHeader:     "ApiKey wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "API key in query param",
			apiKey:         "test-api-key",
			queryParam:     "api_key=test-api-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Missing API key",
			apiKey:         "test-api-key",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := handlers.NewAuthMiddleware(tt.apiKey, 100)

			handlerCalled := false
			handler := middleware.Authenticate(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			})

			url := "/api/languages"
			if tt.queryParam != "" {
				url += "?" + tt.queryParam
			}

			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			w := httptest.NewRecorder()
			handler(w, req)
			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, res.StatusCode)
			}

			if tt.expectedStatus == http.StatusOK && !handlerCalled {
				t.Error("Handler was not called")
			}
		})
	}
}

func TestAuthMiddlewareRateLimit(t *testing.T) {
	middleware := handlers.NewAuthMiddleware("k", 2)
	handler := middleware.Authenticate(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		req.Header.Set("Authorization", "ApiKey k")
		w := httptest.NewRecorder()
		handler(w, req)
		codes = append(codes, w.Code)
	}

	// The counter is per minute; a rollover mid-test resets it.
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("Expected the first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests && codes[2] != http.StatusOK {
		t.Errorf("Expected 429 for the third request, got %d", codes[2])
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		origin          string
		allowedOrigins  []string
		expectedACAO    string
		expectedCreds   string
		expectPreflight bool
	}{
		{
			name:            "Default wildcard",
			origin:          "http://example.com",
			allowedOrigins:  nil, // defaults to ["*"]
			expectedACAO:    "*",
			expectPreflight: true,
		},
		{
			name:            "Explicit wildcard origin",
			origin:          "http://example.com",
			allowedOrigins:  []string{"*"},
			expectedACAO:    "*",
			expectPreflight: true,
		},
		{
			name:            "Matching origin",
			origin:          "http://localhost:3000",
			allowedOrigins:  []string{"http://localhost:3000"},
			expectedACAO:    "http://localhost:3000",
			expectedCreds:   "true",
			expectPreflight: true,
		},
		{
			name:            "Listed origin next to wildcard keeps credentials",
			origin:          "http://localhost:3000",
			allowedOrigins:  []string{"*", "http://localhost:3000"},
			expectedACAO:    "http://localhost:3000",
			expectedCreds:   "true",
			expectPreflight: false,
		},
		{
			name:            "Non-matching origin",
			origin:          "http://evil.com",
			allowedOrigins:  []string{"http://localhost:3000"},
			expectedACAO:    "",
			expectPreflight: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := handlers.NewCORSMiddleware(tt.allowedOrigins)

			handlerCalled := false
			handler := middleware.Middleware(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			})

			var req *http.Request
			if tt.expectPreflight {
				req = httptest.NewRequest(http.MethodOptions, "/api/translate", nil)
				req.Header.Set("Access-Control-Request-Method", "POST")
			} else {
				req = httptest.NewRequest(http.MethodGet, "/api/languages", nil)
			}
			req.Header.Set("Origin", tt.origin)

			w := httptest.NewRecorder()
			handler(w, req)
			res := w.Result()
			defer res.Body.Close()

			if tt.expectPreflight {
				if res.StatusCode != http.StatusNoContent {
					t.Errorf("Expected status 204, got %d", res.StatusCode)
				}
				if handlerCalled {
					t.Error("Preflight reached the handler")
				}
				if res.Header.Get("Access-Control-Allow-Methods") == "" {
					t.Error("Expected allowed methods on the preflight")
				}
			} else if !handlerCalled {
				t.Error("Handler was not called")
			}

			if acao := res.Header.Get("Access-Control-Allow-Origin"); acao != tt.expectedACAO {
				t.Errorf("Expected ACAO '%s', got '%s'", tt.expectedACAO, acao)
			}
			if creds := res.Header.Get("Access-Control-Allow-Credentials"); creds != tt.expectedCreds {
				t.Errorf("Expected credentials '%s', got '%s'", tt.expectedCreds, creds)
			}
		})
	}
}

func TestWebSocketOriginCheck(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		want           bool
	}{
		{name: "No origin", origin: "", want: true},
		{name: "Same host", origin: "http://translator.local:8080", want: true},
		{name: "Wildcard does not cover sockets", origin: "http://evil.com", allowedOrigins: []string{"*"}, want: false},
		{name: "Listed origin", origin: "http://localhost:3000", allowedOrigins: []string{"http://localhost:3000"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://translator.local:8080/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := handlers.NewCORSMiddleware(tt.allowedOrigins).AllowsWebSocket(req); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTranslateRequestDefaults(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantSource string
		wantTarget string
	}{
		{name: "Defaults to English to Kurdish", body: `{"text":"hello"}`, wantStatus: http.StatusOK, wantSource: "eng_Latn", wantTarget: "ckb_Arab"},
		{name: "Source by name fills target", body: `{"text":"هەللۆ","source":"Kurdish"}`, wantStatus: http.StatusOK, wantSource: "ckb_Arab", wantTarget: "eng_Latn"},
		{name: "Target by tag fills source", body: `{"text":"hello","target":"ckb_Arab"}`, wantStatus: http.StatusOK, wantSource: "eng_Latn", wantTarget: "ckb_Arab"},
		{name: "Same language", body: `{"text":"hello","source":"eng_Latn","target":"eng_Latn"}`, wantStatus: http.StatusBadRequest},
		{name: "Unsupported language", body: `{"text":"bonjour","source":"fra_Latn"}`, wantStatus: http.StatusBadRequest},
		{name: "Invalid JSON", body: `{"text":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(t, inferencetest.New(), nil)
			req := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handlers.TranslateHandler(app)(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var res struct {
				Source string `json:"source"`
				Target string `json:"target"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if res.Source != tt.wantSource || res.Target != tt.wantTarget {
				t.Errorf("Expected %s->%s, got %s->%s", tt.wantSource, tt.wantTarget, res.Source, res.Target)
			}
		})
	}
}
