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

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate by endpoint (current, forecast) and status.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency. Watch for: p99 approaching the provider timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Cache hits and misses by cache type (weather, forecast).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Neutral-default substitutions by reason category. Watch for: sustained
	// non-zero rate means estimates are running on placeholder weather.
	WeatherFallbacksTotal *prometheus.CounterVec

	// Wall-clock time of a batch weather fetch including the cache flush.
	BatchFetchDurationSeconds prometheus.Histogram

	// Estimates requested for a plant whose source has no model.
	UnknownSourceEstimatesTotal prometheus.Counter

	// Forecast requests by scope (plant, region) and outcome (success, error).
	ForecastRequestsTotal *prometheus.CounterVec

	// Fluctuation alerts raised by severity.
	FluctuationAlertsTotal *prometheus.CounterVec

	// Dataset processing runs by outcome (refreshed, reused, fallback, error).
	DatasetRefreshTotal           *prometheus.CounterVec
	DatasetRefreshDurationSeconds prometheus.Histogram

	// Circuit breaker state (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Rate limit denials on the API.
	RateLimitDeniedTotal prometheus.Counter
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
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	WeatherFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherFallbacksTotal",
			Help: "Neutral default observations substituted for failed or invalid lookups",
		},
		[]string{"reason"},
	)
	BatchFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherBatchFetchDurationSeconds",
			Help:    "Duration of a batch weather fetch including the cache flush",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	UnknownSourceEstimatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unknownSourceEstimatesTotal",
			Help: "Output estimates requested for plants with an unmodelled energy source",
		},
	)
	ForecastRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastRequestsTotal",
			Help: "Forecast requests by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)
	FluctuationAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluctuationAlertsTotal",
			Help: "Fluctuation alerts raised by severity",
		},
		[]string{"severity"},
	)
	DatasetRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetRefreshTotal",
			Help: "Dataset processing runs by outcome",
		},
		[]string{"outcome"},
	)
	DatasetRefreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasetRefreshDurationSeconds",
			Help:    "Duration of dataset processing runs",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal,
		WeatherFallbacksTotal, BatchFetchDurationSeconds,
		UnknownSourceEstimatesTotal,
		ForecastRequestsTotal, FluctuationAlertsTotal,
		DatasetRefreshTotal, DatasetRefreshDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitions,
		RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
