// Package metrics exposes dispatch, lifecycle and execution counters in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "profilejobs"

// Collector implements the observer interfaces of the dispatch, tracking
// and worker packages.
type Collector struct {
	gatherer prometheus.Gatherer

	dispatches *prometheus.CounterVec
	events     *prometheus.CounterVec
	conflicts  prometheus.Counter
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewCollector registers every metric on reg. A nil reg gets a fresh
// private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Jobs handed to the broker, by kind and result.",
		}, []string{"kind", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events seen by the recorder, by event and whether they changed the record.",
		}, []string{"event", "applied"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_conflicts_total",
			Help:      "Lost races on the job record upsert.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Job executions, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Handler run time in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(c.dispatches, c.events, c.conflicts, c.executions, c.duration)
	return c
}

// ObserveDispatch counts one dispatch attempt.
func (c *Collector) ObserveDispatch(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.dispatches.WithLabelValues(kind, result).Inc()
}

// ObserveEvent counts one lifecycle event.
func (c *Collector) ObserveEvent(event string, applied bool) {
	c.events.WithLabelValues(event, strconv.FormatBool(applied)).Inc()
}

func (c *Collector) ObserveConflict() {
	c.conflicts.Inc()
}

// ObserveExecution counts one handler run and records its duration.
func (c *Collector) ObserveExecution(kind, outcome string, elapsed time.Duration) {
	c.executions.WithLabelValues(kind, outcome).Inc()
	c.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the registry this collector was built on.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
