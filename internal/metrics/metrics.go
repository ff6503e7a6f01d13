// Package metrics defines the Prometheus instruments of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentsExtracted counts media segment extractions by media type and outcome.
	SegmentsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c2pa_segments_extracted_total",
		Help: "Media segments processed by the manifest extractor",
	}, []string{"media_type", "result"})

	// ExtractionDuration tracks verifier round-trip latency.
	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "c2pa_extraction_duration_seconds",
		Help:    "Time spent extracting a manifest for one media segment",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12),
	})

	// ExtractionsSkipped counts media segments that arrived before their init segment.
	ExtractionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c2pa_extractions_skipped_total",
		Help: "Media segments skipped by the extractor",
	}, []string{"reason"})

	// ResultCacheLookups counts hits and misses of the extraction result cache.
	ResultCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c2pa_result_cache_lookups_total",
		Help: "Extraction result cache lookups",
	}, []string{"outcome"})

	// IndexAmbiguous counts queries that found duplicate records for one interval.
	IndexAmbiguous = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c2pa_index_ambiguous_total",
		Help: "Interval index queries that returned identical intervals",
	})

	// StatusTransitions counts aggregate verification status changes.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c2pa_status_transitions_total",
		Help: "Aggregate verification status changes by new status",
	}, []string{"status"})

	// FrictionGate counts friction gate activity.
	FrictionGate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "c2pa_friction_gate_total",
		Help: "Friction gate interstitial events",
	}, []string{"action"})

	// ActiveSessions reports the number of live player sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "c2pa_active_sessions",
		Help: "Number of live player sessions",
	})

	// VerifierRetries counts retried verifier requests.
	VerifierRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c2pa_verifier_retries_total",
		Help: "Verifier requests retried after a transport or server error",
	})

	// HTTPRequestDuration tracks API latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "c2pa_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// DownloadRetries counts retried origin segment downloads.
	DownloadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "c2pa_download_retries_total",
		Help: "Segment downloads retried after a failure",
	})
)

// ObserveExtraction records the outcome and latency of one extraction.
func ObserveExtraction(mediaType, result string, took time.Duration) {
	SegmentsExtracted.WithLabelValues(mediaType, result).Inc()
	ExtractionDuration.Observe(took.Seconds())
}

// IncExtractionSkipped records a skipped extraction.
func IncExtractionSkipped(reason string) {
	ExtractionsSkipped.WithLabelValues(reason).Inc()
}

// IncResultCache records a result cache lookup ("hit", "miss", "error").
func IncResultCache(outcome string) {
	ResultCacheLookups.WithLabelValues(outcome).Inc()
}

// IncIndexAmbiguous records an ambiguous interval index query.
func IncIndexAmbiguous() {
	IndexAmbiguous.Inc()
}

// IncStatusTransition records an aggregate status change.
func IncStatusTransition(status string) {
	StatusTransitions.WithLabelValues(status).Inc()
}

// IncFrictionGate records a friction gate action ("shown", "acknowledged").
func IncFrictionGate(action string) {
	FrictionGate.WithLabelValues(action).Inc()
}

// IncVerifierRetry records a retried verifier request.
func IncVerifierRetry() {
	VerifierRetries.Inc()
}

// IncDownloadRetry records a retried segment download.
func IncDownloadRetry() {
	DownloadRetries.Inc()
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, status int, took time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}
