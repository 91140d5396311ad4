package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-kurdish/cmd/webui/config"
	"github.com/23skdu/longbow-kurdish/cmd/webui/engine"
	"github.com/23skdu/longbow-kurdish/cmd/webui/handlers"
	"github.com/23skdu/longbow-kurdish/cmd/webui/templates"
	translation "github.com/23skdu/longbow-kurdish/internal/config"
	"github.com/23skdu/longbow-kurdish/internal/logger"
	"github.com/23skdu/longbow-kurdish/internal/session"
)

func main() {
	cfg := config.DefaultConfig()
	tc := &cfg.Translation
	var (
		allowedOrigins string
		backend        = string(tc.Backend)
	)

	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host to bind to")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus metrics port (0 disables the separate listener)")
	flag.StringVar(&cfg.APIKey, "api-key", "", `API key for /api/ ("auto" generates one)`)
	flag.IntVar(&cfg.APIRateLimit, "api-rate-limit", cfg.APIRateLimit, "API requests per minute per key")
	flag.StringVar(&allowedOrigins, "allowed-origins", "", "Comma-separated list of allowed CORS origins")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Idle time after which a UI session is dropped")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console, json)")

	flag.StringVar(&backend, "backend", backend, "Inference backend (http, flight)")
	flag.StringVar(&tc.BackendAddr, "backend-addr", tc.BackendAddr, "Inference backend address")
	flag.DurationVar(&tc.BackendTimeout, "backend-timeout", tc.BackendTimeout, "Timeout for one backend call")
	flag.StringVar(&tc.BaseModel, "base-model", tc.BaseModel, "Base model id or local path")
	flag.StringVar(&tc.Adapter, "adapter", tc.Adapter, "LoRA adapter id or local path")
	flag.StringVar(&tc.CacheDir, "hf-cache", "", "Hugging Face hub cache (default ~/.cache/huggingface/hub)")
	flag.StringVar(&tc.Device, "device", tc.Device, "Device for the backend (auto, cpu, cuda:0, ...)")
	flag.IntVar(&tc.MaxInputTokens, "max-input-tokens", tc.MaxInputTokens, "Input tokens kept after truncation")
	flag.IntVar(&tc.MaxLength, "max-length", tc.MaxLength, "Maximum generated tokens")
	flag.IntVar(&tc.NumBeams, "num-beams", tc.NumBeams, "Beam search width")
	flag.Int64Var(&tc.MaxConcurrent, "max-concurrent", tc.MaxConcurrent, "Generations allowed at once")
	flag.DurationVar(&tc.LoadTimeout, "load-timeout", tc.LoadTimeout, "Timeout for one model load attempt")
	flag.BoolVar(&tc.PreloadOnStartup, "preload", false, "Load the model before serving")
	flag.Parse()

	cfg.AllowedOrigins = config.ParseOrigins(allowedOrigins)
	tc.Backend = translation.BackendKind(backend)

	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logger.Log.With("main")

	if cfg.APIKey == "auto" {
		key, err := handlers.GenerateAPIKey()
		if err != nil {
			log.Error("Failed to generate API key", "err", err)
			os.Exit(1)
		}
		cfg.APIKey = key
		log.Info("Generated API key", "api_key", key)
	}

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := templates.InitTemplates(); err != nil {
		log.Error("Failed to initialize templates", "err", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg.Translation)
	if err != nil {
		log.Error("Failed to create inference backend", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore(eng.Languages, cfg.SessionTTL)
	go sessions.Run(ctx, time.Minute)

	log.Info("Starting Longbow-Kurdish WebUI",
		"version", handlers.Version,
		"addr", cfg.Addr(),
		"backend", string(tc.Backend),
		"backend_addr", tc.BackendAddr,
		"base_model", tc.BaseModel,
		"adapter", tc.Adapter,
	)

	if tc.PreloadOnStartup {
		// A failed preload is not fatal; the next request retries.
		if err := eng.Preload(ctx); err != nil {
			log.Warn("Model preload failed", "err", err)
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewMux(handlers.NewApp(cfg, eng, sessions)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr(), Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("Metrics available", "url", "http://"+cfg.MetricsAddr()+"/metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", "err", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server error", "err", err)
		eng.Close()
		os.Exit(1)
	}
	<-done

	if err := eng.Close(); err != nil {
		log.Warn("Failed to release model", "err", err)
	}
	log.Info("Server stopped")
}
