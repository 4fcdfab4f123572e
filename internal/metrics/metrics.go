// Package metrics exposes Prometheus instrumentation for flush passes,
// deliveries and queue depth.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldsync"

// Delivery results recorded per report.
const (
	ResultDelivered    = "delivered"
	ResultPending      = "pending"
	ResultDeadLettered = "dead_lettered"
)

// Pass outcomes.
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeAborted  = "aborted"
)

// Registry owns the fieldsync collectors on a private Prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	registry     *prometheus.Registry
	passes       *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	deadLetters  prometheus.Gauge
	oldestAge    prometheus.Gauge
}

// New creates and registers the fieldsync collectors, plus the Go runtime
// and process collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_passes_total",
			Help:      "Flush passes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_deliveries_total",
			Help:      "Per-report delivery attempts by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_pass_duration_seconds",
			Help:      "Wall time of flush passes.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"trigger"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_reports",
			Help:      "Reports waiting for delivery.",
		}),
		deadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dead_letters",
			Help:      "Reports the collector permanently rejected.",
		}),
		oldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_oldest_pending_age_seconds",
			Help:      "Age of the oldest pending report, 0 when the queue is empty.",
		}),
	}
	reg.MustRegister(
		r.passes,
		r.deliveries,
		r.passDuration,
		r.queueDepth,
		r.deadLetters,
		r.oldestAge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObservePass records one completed or aborted pass.
func (r *Registry) ObservePass(trigger, outcome string, delivered, pending, deadLettered int, duration time.Duration) {
	if r == nil {
		return
	}
	r.passes.WithLabelValues(trigger, outcome).Inc()
	r.passDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	r.deliveries.WithLabelValues(ResultDelivered).Add(float64(delivered))
	r.deliveries.WithLabelValues(ResultPending).Add(float64(pending))
	r.deliveries.WithLabelValues(ResultDeadLettered).Add(float64(deadLettered))
}

// SetQueue updates the queue depth gauges.
func (r *Registry) SetQueue(pending, deadLettered int, oldestAge time.Duration) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(pending))
	r.deadLetters.Set(float64(deadLettered))
	r.oldestAge.Set(oldestAge.Seconds())
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
