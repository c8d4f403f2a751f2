package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translations_submitted_total",
		Help: "The total number of submitted translation jobs",
	}, []string{"tier", "mode"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translations_processed_total",
		Help: "The total number of processed deliveries",
	}, []string{"tier", "outcome"}) // outcome: completed, failed, retried, cancelled, skipped, requeued

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "translation_duration_seconds",
		Help:    "Duration of one translation attempt.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
	}, []string{"tier"})

	CancelsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "translation_cancels_requested_total",
		Help: "The total number of accepted cancellation requests",
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
