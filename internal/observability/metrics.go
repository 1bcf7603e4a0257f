package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream provider call rate by outcome. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts against the upstream provider. High retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Upstream provider failures by stable category (timeout, network, ...).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Response cache hits and misses by cache type (data, forecast).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Response cache operation failures by operation (get, put). The cache
	// degrades to miss behavior; this is how often that happens.
	CacheErrorsTotal *prometheus.CounterVec

	// Historical store upserts by result (inserted, updated) and failures.
	HistoryUpsertsTotal      *prometheus.CounterVec
	HistoryUpsertErrorsTotal prometheus.Counter

	// Object sync actions by classification (download, upload, skip).
	SyncActionsTotal *prometheus.CounterVec

	// Rate limit denials on the HTTP surface.
	RateLimitDeniedTotal prometheus.Counter

	// Background job runs by job name and outcome (success, error).
	SchedulerRunsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of upstream weather provider calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream weather provider latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for upstream weather calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Upstream weather provider failures by error category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of response cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of response cache misses (paired with upstream fetches)",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Response cache operation failures; each one degrades to a miss",
		},
		[]string{"operation"},
	)
	HistoryUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyUpsertsTotal",
			Help: "Historical observation upserts by result",
		},
		[]string{"result"},
	)
	HistoryUpsertErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "historyUpsertErrorsTotal",
			Help: "Historical observation upserts that failed",
		},
	)
	SyncActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncActionsTotal",
			Help: "Object sync actions by reconcile classification",
		},
		[]string{"action"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulerRunsTotal",
			Help: "Background job runs by job name and outcome",
		},
		[]string{"job", "outcome"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		HistoryUpsertsTotal, HistoryUpsertErrorsTotal,
		SyncActionsTotal,
		RateLimitDeniedTotal,
		SchedulerRunsTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
