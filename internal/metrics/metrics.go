// Package metrics exposes Prometheus instrumentation for open databases,
// store operations and background jobs. A nil *Metrics is valid and records
// nothing, so callers never need to check whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	reg *prometheus.Registry

	openDatabases prometheus.Gauge
	storeOps      *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobsRunning   *prometheus.GaugeVec
	sseClients    prometheus.Gauge
	sseDropped    prometheus.Counter
}

// New creates a registry with Go runtime collectors and the entbrowser
// metrics registered on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		openDatabases: f.NewGauge(prometheus.GaugeOpts{
			Name: "entbrowser_open_databases",
			Help: "Number of databases currently open",
		}),
		storeOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entbrowser_store_operations_total",
				Help: "Total number of entity store operations by operation",
			},
			[]string{"op"}, // "get", "search", "create", "update", "delete", "blob_get", "blob_put"
		),
		storeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entbrowser_store_errors_total",
				Help: "Total number of failed entity store operations by operation",
			},
			[]string{"op"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entbrowser_jobs_total",
				Help: "Total number of finished jobs by kind and final state",
			},
			[]string{"kind", "state"},
		),
		jobsRunning: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "entbrowser_jobs_running",
				Help: "Number of jobs currently running by kind",
			},
			[]string{"kind"},
		),
		sseClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "entbrowser_sse_clients",
			Help: "Number of connected event stream clients",
		}),
		sseDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "entbrowser_sse_dropped_frames_total",
			Help: "Event frames dropped because a client buffer was full",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// DatabaseOpened increments the open databases gauge.
func (m *Metrics) DatabaseOpened() {
	if m == nil {
		return
	}
	m.openDatabases.Inc()
}

// DatabaseClosed decrements the open databases gauge.
func (m *Metrics) DatabaseClosed() {
	if m == nil {
		return
	}
	m.openDatabases.Dec()
}

// StoreOp records one store operation and whether it failed.
func (m *Metrics) StoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op).Inc()
	if err != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

// JobStarted marks a job of kind as running.
func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.jobsRunning.WithLabelValues(kind).Inc()
}

// JobFinished records the terminal state of a job that was running.
func (m *Metrics) JobFinished(kind, state string, wasRunning bool) {
	if m == nil {
		return
	}
	if wasRunning {
		m.jobsRunning.WithLabelValues(kind).Dec()
	}
	m.jobs.WithLabelValues(kind, state).Inc()
}

// SetSSEClients records the number of connected event stream clients.
func (m *Metrics) SetSSEClients(n int) {
	if m == nil {
		return
	}
	m.sseClients.Set(float64(n))
}

// SSEDropped counts one frame dropped for a slow client.
func (m *Metrics) SSEDropped() {
	if m == nil {
		return
	}
	m.sseDropped.Inc()
}
