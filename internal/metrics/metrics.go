// Package metrics exposes Prometheus collectors for the media pipeline.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/mediapipe-api/internal/media"
	"github.com/maauso/mediapipe-api/internal/notify"
	"github.com/maauso/mediapipe-api/internal/publish"
)

const namespace = "mediapipe"

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsAccepted   *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	activeJobs     prometheus.Gauge
	encodeDuration *prometheus.HistogramVec
	uploads        *prometheus.CounterVec
	uploadAttempts prometheus.Histogram
	notifications  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers all collectors, plus Go runtime and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_accepted_total",
			Help:      "Jobs acknowledged, by kind.",
		}, []string{"kind"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by kind and status.",
		}, []string{"kind", "status"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently processing in the background.",
		}),
		encodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Wall-clock time of ffmpeg invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"operation", "result"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Artifact publications, by result.",
		}, []string{"result"}),
		uploadAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_attempts",
			Help:      "Attempts needed per artifact publication.",
			Buckets:   prometheus.LinearBuckets(1, 1, 3),
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Webhook deliveries, by kind and outcome.",
		}, []string{"kind", "status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobStarted records an acknowledged job entering background processing.
func (m *Metrics) JobStarted(kind string) {
	m.jobsAccepted.WithLabelValues(kind).Inc()
	m.activeJobs.Inc()
}

// JobFinished records a job reaching a terminal status.
func (m *Metrics) JobFinished(kind, status string) {
	m.jobsFinished.WithLabelValues(kind, status).Inc()
	m.activeJobs.Dec()
}

// ObserveEncode implements media.Observer.
func (m *Metrics) ObserveEncode(operation string, elapsed time.Duration, err error) {
	m.encodeDuration.WithLabelValues(operation, encodeResult(err)).Observe(elapsed.Seconds())
}

// ObserveUpload implements publish.Observer.
func (m *Metrics) ObserveUpload(attempts int, degraded bool) {
	result := "stored"
	if degraded {
		result = "degraded"
	}
	m.uploads.WithLabelValues(result).Inc()
	m.uploadAttempts.Observe(float64(attempts))
}

// ObserveNotification implements notify.Observer.
func (m *Metrics) ObserveNotification(kind string, status notify.Status) {
	m.notifications.WithLabelValues(kind, string(status)).Inc()
}

// ObserveRequest records one served HTTP request. An empty route is reported
// as "unmatched".
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func encodeResult(err error) string {
	var ffErr *media.FFmpegError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, media.ErrEncodingTimeout):
		return "timeout"
	case errors.Is(err, media.ErrEncoderUnavailable):
		return "unavailable"
	case errors.As(err, &ffErr):
		return "failed"
	default:
		return "error"
	}
}

var (
	_ media.Observer   = (*Metrics)(nil)
	_ notify.Observer  = (*Metrics)(nil)
	_ publish.Observer = (*Metrics)(nil)
)
