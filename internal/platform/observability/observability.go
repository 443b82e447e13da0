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
	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_jobs_claimed_total",
		Help: "The total number of batch jobs claimed by this worker",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_jobs_processed_total",
		Help: "The total number of batch jobs finished, by outcome",
	}, []string{"status"}) // status: completed, failed

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_job_duration_seconds",
		Help:    "Duration of batch job execution.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_jobs_active",
		Help: "Jobs currently executing in this process",
	})

	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_pages_fetched_total",
		Help: "Pages fetched from the external property-data provider",
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
