package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranslationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurdish_translations_total",
		Help: "Translation requests by direction and outcome",
	}, []string{"direction", "outcome"})

	TranslationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kurdish_translation_duration_seconds",
		Help:    "End-to-end translation latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"direction"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kurdish_translation_stage_duration_seconds",
		Help:    "Latency of each translation stage (encode, target_token, generate, decode)",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	InputTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kurdish_input_tokens",
		Help:    "Encoded input length in tokens",
		Buckets: []float64{8, 16, 32, 64, 128, 192, 256},
	})

	OutputTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kurdish_output_tokens",
		Help:    "Generated output length in tokens",
		Buckets: []float64{8, 16, 32, 64, 128, 192, 256},
	})

	TruncatedInputs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurdish_truncated_inputs_total",
		Help: "Inputs that reached the encoder length cap",
	})

	ModelLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurdish_model_loads_total",
		Help: "Model load attempts by outcome",
	}, []string{"outcome"})

	ModelLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kurdish_model_load_duration_seconds",
		Help:    "Time to resolve and load base model plus adapter",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	ModelLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurdish_model_loaded",
		Help: "1 when the translation model is cached and ready",
	})

	ValidationWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kurdish_validation_warnings_total",
		Help: "Submissions rejected because the input was empty",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurdish_sessions_active",
		Help: "Interactive sessions currently held in memory",
	})
)

func RecordTranslation(direction, outcome string, duration time.Duration) {
	TranslationsTotal.WithLabelValues(direction, outcome).Inc()
	if outcome == "success" {
		TranslationDuration.WithLabelValues(direction).Observe(duration.Seconds())
	}
}

func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordTokens(input, output int, truncated bool) {
	InputTokens.Observe(float64(input))
	OutputTokens.Observe(float64(output))
	if truncated {
		TruncatedInputs.Inc()
	}
}

func RecordModelLoad(err error, duration time.Duration) {
	if err != nil {
		ModelLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	ModelLoadsTotal.WithLabelValues("success").Inc()
	ModelLoadDuration.Observe(duration.Seconds())
	ModelLoaded.Set(1)
}

func RecordModelUnloaded() {
	ModelLoaded.Set(0)
}

func RecordValidationWarning() {
	ValidationWarnings.Inc()
}

func RecordSessions(n int) {
	ActiveSessions.Set(float64(n))
}
