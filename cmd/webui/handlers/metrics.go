package handlers

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kurdish_webui_connections_active",
		Help: "Number of active WebSocket connections",
	})

	totalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurdish_webui_requests_total",
		Help: "Total number of HTTP requests by route and status code",
	}, []string{"endpoint", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kurdish_webui_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"endpoint"})

	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurdish_webui_ws_messages_total",
		Help: "WebSocket messages received by type",
	}, []string{"type"})

	totalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kurdish_webui_errors_total",
		Help: "Total errors by type",
	}, []string{"type"})
)

func RecordRequest(endpoint string, code int, duration time.Duration) {
	totalRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func RecordError(errType string) {
	totalErrors.WithLabelValues(errType).Inc()
}
