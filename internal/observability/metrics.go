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

	// HTTP request latency. Cache hits should sit in the lowest buckets.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream air_pollution calls by mode and status. Each retry attempt counts once.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per attempt. Watch for: p95 approaching the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts against the upstream. High values = unstable upstream or quota pressure.
	UpstreamRetriesTotal prometheus.Counter

	// Upstream errors by category (see client.CategorizeError).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Spatio-temporal cache lookups by result (hit, miss).
	CacheLookupsTotal *prometheus.CounterVec

	// Current number of cached entries.
	CacheEntries prometheus.Gauge

	// Entries dropped because the cache reached capacity.
	CacheEvictionsTotal prometheus.Counter

	// Lookup latency, linear scan vs cell index.
	CacheLookupDuration *prometheus.HistogramVec

	// Queries resolved from the upstream, by mode.
	QueriesResolvedTotal *prometheus.CounterVec

	// Forecast/history calls that returned no samples (not cached).
	EmptyResultsTotal *prometheus.CounterVec

	// Requests that shared another request's upstream fetch.
	RequestCoalescingHitsTotal prometheus.Counter

	// Cache misses that overlapped another in-progress miss for the same plan.
	CacheStampedeDetectedTotal prometheus.Counter

	// Circuit breaker state: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions by from/to state.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache warm-up runs and failures.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Requests still in flight when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge
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
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamApiCallsTotal",
			Help: "Total number of OpenWeatherMap air_pollution calls",
		},
		[]string{"mode", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamApiDurationSeconds",
			Help:    "OpenWeatherMap air_pollution latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"mode", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamApiRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamApiErrorsTotal",
			Help: "Upstream errors surfaced to clients, by category",
		},
		[]string{"category"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiCacheLookupsTotal",
			Help: "Spatio-temporal cache lookups by result",
		},
		[]string{"result"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aqiCacheEntries",
			Help: "Number of entries held by the spatio-temporal cache",
		},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aqiCacheEvictionsTotal",
			Help: "Entries evicted (oldest first) because the cache was full",
		},
	)
	CacheLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqiCacheLookupDurationSeconds",
			Help:    "Spatio-temporal cache lookup latency in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005},
		},
		[]string{"index"},
	)
	QueriesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiQueriesResolvedTotal",
			Help: "Queries answered from the upstream, by mode",
		},
		[]string{"mode"},
	)
	EmptyResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqiEmptyResultsTotal",
			Help: "Forecast/history responses with no samples, by mode",
		},
		[]string{"mode"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by another in-flight upstream fetch",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that started while another miss for the same plan was in progress",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warm-up runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warm-up runs with at least one failed point",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warm-up duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests in flight when graceful shutdown started",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal, UpstreamErrorsTotal,
		CacheLookupsTotal, CacheEntries, CacheEvictionsTotal, CacheLookupDuration,
		QueriesResolvedTotal, EmptyResultsTotal, RequestCoalescingHitsTotal, CacheStampedeDetectedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		ShutdownInFlightRequests,
	)
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordShutdownInFlight records how many requests were still running at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
