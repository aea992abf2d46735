package observability

import (
	"net/http"
	"sync"

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

	// Weather provider call rate by outcome.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Provider latency per attempt. Watch for: p95 approaching the segment timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for provider calls. High values mean an unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	CacheHitsTotal                *prometheus.CounterVec
	CacheMissesTotal              *prometheus.CounterVec
	CacheErrorsTotal              *prometheus.CounterVec
	CacheOperationDurationSeconds *prometheus.HistogramVec
	CacheEvictionsTotal           prometheus.Counter
	CacheWarmingRunsTotal         *prometheus.CounterVec

	// Lookups whose provider fetch was shared with concurrent callers.
	RequestCoalescingHitsTotal prometheus.Counter

	// Concurrent misses for one key when a miss starts. Values above 1 indicate a stampede.
	CacheStampedeConcurrency prometheus.Histogram

	RiskAssessmentsTotal *prometheus.CounterVec

	// Route analyses by outcome: success, partial, unassessable, invalid, cancelled, error.
	RouteAnalysesTotal           *prometheus.CounterVec
	RouteSegmentErrorsTotal      *prometheus.CounterVec
	RouteAnalysisDurationSeconds prometheus.Histogram
	RouteDangerZones             prometheus.Histogram
	RouteSegments                prometheus.Histogram

	// 0 closed, 1 open, 2 half-open.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trafficGaugesOnce sync.Once
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
			Help: "Total number of weather provider calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather provider latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
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
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Entries evicted from the in-memory cache to respect max_entries",
		},
	)
	CacheWarmingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWarmingRunsTotal",
			Help: "Cache warming runs by result",
		},
		[]string{"result"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Lookups whose provider fetch was shared with concurrent callers",
		},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for the same key when a miss starts",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		},
	)
	RiskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskAssessmentsTotal",
			Help: "Risk assessments produced, by risk level",
		},
		[]string{"level"},
	)
	RouteAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeAnalysesTotal",
			Help: "Route analyses by outcome",
		},
		[]string{"outcome"},
	)
	RouteSegmentErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routeSegmentErrorsTotal",
			Help: "Route segments that could not be assessed, by provider error kind",
		},
		[]string{"kind"},
	)
	RouteAnalysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routeAnalysisDurationSeconds",
			Help:    "End-to-end route analysis latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)
	RouteDangerZones = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routeDangerZones",
			Help:    "Danger zones found per analyzed route",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
	)
	RouteSegments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routeSegments",
			Help:    "Segments per analyzed route",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 99},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
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
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheEvictionsTotal, CacheWarmingRunsTotal,
		RequestCoalescingHitsTotal, CacheStampedeConcurrency,
		RiskAssessmentsTotal, RouteAnalysesTotal, RouteSegmentErrorsTotal,
		RouteAnalysisDurationSeconds, RouteDangerZones, RouteSegments,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterTrafficGauges registers sliding-window load and reject gauges backed
// by the given counters. Only the first call registers.
func RegisterTrafficGauges(requests, rejects func() float64) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				requests,
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				rejects,
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
