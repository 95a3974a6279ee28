// Package metrics exposes the prometheus instrumentation for uploads, sync,
// generation, and storage operations.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UploadsTotal     *prometheus.CounterVec
	UploadBytes      *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	GenerationTotal  *prometheus.CounterVec
	CanvasSavesTotal *prometheus.CounterVec
	StorageOpSeconds *prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// New returns the process-wide metrics instance, registering the collectors
// on first use.
func New() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftcanvas_uploads_total",
			Help: "Total number of upload attempts",
		}, []string{"kind", "status"}),

		UploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driftcanvas_upload_bytes",
			Help:    "Size distribution of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"kind"}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftcanvas_rate_limited_total",
			Help: "Uploads rejected by the sliding-window limiter",
		}, []string{"window"}),

		GenerationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftcanvas_generation_total",
			Help: "Total number of generation requests",
		}, []string{"kind", "status"}),

		CanvasSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftcanvas_canvas_saves_total",
			Help: "Total number of canvas document saves",
		}, []string{"status"}),

		StorageOpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driftcanvas_storage_op_duration_seconds",
			Help:    "Blob and metadata store operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	registerOrGet(m.UploadsTotal)
	registerOrGet(m.UploadBytes)
	registerOrGet(m.RateLimitedTotal)
	registerOrGet(m.GenerationTotal)
	registerOrGet(m.CanvasSavesTotal)
	registerOrGet(m.StorageOpSeconds)

	globalMetrics = m
	return m
}

// registerOrGet tolerates re-registration so tests and embedded servers can
// call New more than once.
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
