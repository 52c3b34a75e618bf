package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/observability"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var (
	requestTotal = observability.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicas",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Count of processed HTTP requests",
	}, []string{"method", "route", "status"}))

	requestLatency = observability.Register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replicas",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "route", "status"}))

	rateLimitHits = observability.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicas",
		Subsystem: "api",
		Name:      "rate_limit_hits_total",
		Help:      "Number of rate-limited responses",
	}, []string{"route", "key"}))
)

func recordRequestMetrics(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	requestTotal.With(labels).Inc()
	requestLatency.With(labels).Observe(duration.Seconds())
}

func recordRateLimitHit(route, key string) {
	rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}
