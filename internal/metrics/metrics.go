// Package metrics exposes Prometheus collectors for the generation
// pipeline on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zulandar/llamagram/internal/emitter"
	"github.com/zulandar/llamagram/internal/fault"
)

const namespace = "llamagram"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobs       *prometheus.CounterVec
	generation prometheus.Histogram
	flushes    *prometheus.CounterVec
	rollovers  prometheus.Counter
	rejected   prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime collector, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Generation jobs processed, by outcome.",
		}, []string{"outcome"}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Time from taking a job to finishing its delivery.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_flushes_total",
			Help:      "Streaming message updates, by result.",
		}, []string{"result"}),
		rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_rollovers_total",
			Help:      "Times a streamed answer continued in a new message.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Submissions refused because the queue was full.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.jobs, m.generation, m.flushes, m.rollovers, m.rejected,
	)
	return m
}

// WatchQueue registers a gauge that reports depth() on every scrape.
func (m *Metrics) WatchQueue(depth func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs waiting for the worker.",
	}, func() float64 { return float64(depth()) }))
}

// ObserveJob records a finished job. kind is fault.None for success.
func (m *Metrics) ObserveJob(kind fault.Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if kind != fault.None {
		outcome = kind.String()
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.generation.Observe(elapsed.Seconds())
}

// ObserveStream records the delivery counters of a finished stream.
func (m *Metrics) ObserveStream(st emitter.Stats) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues("ok").Add(float64(st.Flushes))
	m.flushes.WithLabelValues("dropped").Add(float64(st.Dropped))
	m.rollovers.Add(float64(st.Rollovers))
}

// QueueRejected counts a refused submission.
func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
