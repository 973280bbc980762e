package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/todoexport/api/internal/model"
)

// Metrics holds the Prometheus collectors of one process. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	jobsActive      *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics(version, environment string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Background job transitions by status and job type.",
		}, []string{"status", "job_type"}),
		jobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "background_jobs_active",
			Help: "Background jobs currently executing.",
		}, []string{"job_type"}),
	}

	appInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "app_info",
		Help: "Application build and environment information.",
	}, []string{"version", "environment"})
	appInfo.WithLabelValues(version, environment).Set(1)

	m.registry.MustRegister(
		m.requestDuration,
		m.jobsTotal,
		m.jobsActive,
		appInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// JobTransition counts a job lifecycle transition. Started and terminal
// transitions also move the active gauge.
func (m *Metrics) JobTransition(jobType, transition string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(transition, jobType).Inc()
	switch transition {
	case model.JobTransitionStarted:
		m.jobsActive.WithLabelValues(jobType).Inc()
	case model.JobTransitionSucceeded, model.JobTransitionFailed:
		m.jobsActive.WithLabelValues(jobType).Dec()
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
