package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-kurdish/cmd/webui/templates"
)

// NewMux registers every route of the web UI. The returned handler logs and
// counts each request.
func NewMux(app *App) http.Handler {
	cfg := app.Config
	mux := http.NewServeMux()

	corsMiddleware := NewCORSMiddleware(cfg.AllowedOrigins)
	authMiddleware := NewAuthMiddleware(cfg.APIKey, cfg.APIRateLimit)
	loggingMiddleware := NewLoggingMiddleware()

	probes := app.Probes()
	mux.Handle("GET /health", HealthHandler(probes))
	mux.Handle("GET /healthz", HealthzHandler())
	mux.Handle("GET /readyz", ReadyzHandler(probes))
	mux.Handle("GET /version", VersionHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware.Middleware(authMiddleware.Authenticate(h))
	}
	mux.Handle("GET /api/languages", api(LanguagesHandler(app)))
	mux.Handle("POST /api/translate", api(TranslateHandler(app)))
	mux.Handle("GET /api/session", api(SessionStateHandler(app)))
	mux.Handle("POST /api/session/swap", api(SessionSwapHandler(app)))
	mux.Handle("POST /api/session/theme", api(SessionThemeHandler(app)))
	mux.Handle("OPTIONS /api/", corsMiddleware.Middleware(http.NotFound))

	mux.Handle("GET /{$}", IndexHandler(app))
	mux.Handle("POST /translate", TranslateFormHandler(app))
	mux.Handle("POST /swap", SwapFormHandler(app))
	mux.Handle("POST /theme", ThemeFormHandler(app))
	mux.Handle("POST /direction", DirectionFormHandler(app))
	mux.Handle("GET /static/", http.StripPrefix("/static/", templates.Static()))
	mux.Handle("GET /ws", WebSocketHandler(app, corsMiddleware))

	return loggingMiddleware.Middleware(mux.ServeHTTP)
}
