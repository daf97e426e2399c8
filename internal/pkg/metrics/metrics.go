package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_extraction_total",
			Help: "Number of extractions by the tier that produced records",
		},
		[]string{"shape", "tier"},
	)

	RepairsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_repairs_applied_total",
			Help: "Number of times each sanitizer repair strategy changed the payload",
		},
		[]string{"strategy"},
	)

	MatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_match_total",
			Help: "Entity resolutions by matching tier and confidence",
		},
		[]string{"tier", "confidence"},
	)

	SentinelsPadded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_sentinels_total",
			Help: "Sentinel entries present in assembled groups",
		},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_pipeline_duration_seconds",
			Help:    "Duration of a reconcile run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"shape", "outcome"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_requests_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Response cache removals by reason",
		},
		[]string{"reason"},
	)

	CacheBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_backend_errors_total",
			Help: "Shared cache tier failures treated as misses",
		},
		[]string{"op"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Entries currently held in the in-memory response cache",
		},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "model_call_duration_seconds",
			Help: "Duration of upstream model calls in seconds",
		},
		[]string{"model", "outcome"},
	)
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"route"},
	)
)
