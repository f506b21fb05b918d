// Package metrics provides Prometheus metrics for the media viewer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_viewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_viewer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	mediaBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_viewer_media_bytes_served_total",
			Help: "Bytes written for media responses",
		},
		[]string{"mode"},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_viewer_cache_lookups_total",
			Help: "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	thumbnailCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_viewer_thumbnail_cache_bytes",
			Help: "Bytes held by the in-memory thumbnail cache",
		},
	)

	thumbnailCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_viewer_thumbnail_cache_entries",
			Help: "Entries held by the in-memory thumbnail cache",
		},
	)

	// Thumbnail generation
	thumbnailGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_viewer_thumbnail_generation_seconds",
			Help:    "Time spent decoding, resizing and encoding thumbnails",
			Buckets: prometheus.DefBuckets,
		},
	)

	thumbnailFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_viewer_thumbnail_fallbacks_total",
			Help: "Thumbnail requests answered with the original file after a generation failure",
		},
	)

	sequenceResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_viewer_sequence_resolve_seconds",
			Help:    "Time to scan the library and resolve the playback sequence",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Interaction recording
	interactionWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_viewer_interaction_writes_total",
			Help: "Result file writes by kind and status",
		},
		[]string{"kind", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordMediaBytes records bytes written by the media responder. mode is one
// of "full", "stream" or "range".
func RecordMediaBytes(mode string, n int64) {
	mediaBytesServed.WithLabelValues(mode).Add(float64(n))
}

// RecordCacheLookup records a hit or a miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// SetThumbnailCacheSize publishes the current thumbnail cache footprint.
func SetThumbnailCacheSize(bytes int64, entries int) {
	thumbnailCacheBytes.Set(float64(bytes))
	thumbnailCacheEntries.Set(float64(entries))
}

// RecordThumbnailGeneration records one thumbnail generation.
func RecordThumbnailGeneration(duration time.Duration) {
	thumbnailGenerationDuration.Observe(duration.Seconds())
}

// RecordThumbnailFallback counts a thumbnail request served with the original file.
func RecordThumbnailFallback() {
	thumbnailFallbacksTotal.Inc()
}

// RecordSequenceResolve records the duration of a sequence recomputation.
func RecordSequenceResolve(duration time.Duration) {
	sequenceResolveDuration.Observe(duration.Seconds())
}

// RecordInteractionWrite records a result file write.
func RecordInteractionWrite(kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	interactionWritesTotal.WithLabelValues(kind, status).Inc()
}
