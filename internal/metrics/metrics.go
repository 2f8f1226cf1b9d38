// Package metrics exposes Prometheus instrumentation for the portal.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the portal's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TasksSubmitted prometheus.Counter
	TasksFinished  prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksRunning   prometheus.Gauge

	PipelineDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epibuilder_tasks_submitted_total",
			Help: "Prediction tasks accepted for processing.",
		}),
		TasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epibuilder_tasks_finished_total",
			Help: "Prediction tasks that finished successfully.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epibuilder_tasks_failed_total",
			Help: "Prediction tasks that failed.",
		}),
		TasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epibuilder_tasks_running",
			Help: "Prediction tasks currently executing.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "epibuilder_pipeline_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(m.TasksSubmitted, m.TasksFinished, m.TasksFailed,
		m.TasksRunning, m.PipelineDuration)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
