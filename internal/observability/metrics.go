package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	ScoringTasks        *prometheus.CounterVec
	ScoringLatency      prometheus.Histogram
	WorkerRestarts      prometheus.Counter
	LearningIngests     *prometheus.CounterVec
	StorageFallbacks    *prometheus.CounterVec
	WSConnections       prometheus.Gauge
	WSMessages          *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route family and status class.",
		}, []string{"route", "status"}),
		RateLimitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-IP rate limiter, by bucket.",
		}, []string{"bucket"}),
		ScoringTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_tasks_total",
			Help:      "Consonant scoring tasks by outcome.",
		}, []string{"outcome"}),
		ScoringLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_latency_ms",
			Help:      "End-to-end consonant scoring latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 400, 800, 1500, 3000, 8000, 15000},
		}),
		WorkerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_worker_restarts_total",
			Help:      "Scoring worker slot restarts after timeout or crash.",
		}),
		LearningIngests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_ingests_total",
			Help:      "Learning ingests by kind and dedupe outcome.",
		}, []string{"kind", "outcome"}),
		StorageFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_fallbacks_total",
			Help:      "Postgres calls served from the in-memory fallback, by store.",
		}, []string{"store"}),
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime collaboration sockets.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Realtime messages by type and delivery result.",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) ObserveScoringLatency(d time.Duration) {
	m.ScoringLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
