// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Alert outcomes.
const (
	OutcomeCreated    = "created"
	OutcomeDuplicate  = "duplicate"
	OutcomeCorrelated = "correlated"
	OutcomeBatched    = "batched"
	OutcomeFailed     = "failed"
)

// Collector owns the engine's Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	alertsProcessed *prometheus.CounterVec
	alertsRejected  *prometheus.CounterVec
	tasksCreated    *prometheus.CounterVec
	ruleMatches     *prometheus.CounterVec
	ruleErrors      *prometheus.CounterVec
	batchFlushes    *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	pendingBatched  prometheus.Gauge
	processDuration prometheus.Histogram
}

// New registers the metrics on a fresh registry.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "alertflow"
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		alertsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_processed_total",
			Help:      "Alerts processed, by outcome.",
		}, []string{"outcome"}),
		alertsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Payloads dropped before processing, by field.",
		}, []string{"field"}),
		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created, by priority.",
		}, []string{"priority"}),
		ruleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Alerts routed to each workflow rule.",
		}, []string{"rule"}),
		ruleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_errors_total",
			Help:      "Matcher failures, by rule.",
		}, []string{"rule"}),
		batchFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batches flushed into tasks, by reason.",
		}, []string{"reason"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by the retention sweep, by cache.",
		}, []string{"cache"}),
		pendingBatched: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batched_alerts_pending",
			Help:      "Alerts held in open batches.",
		}),
		processDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Time spent processing one alert.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// AlertProcessed counts one alert outcome and its processing time.
func (c *Collector) AlertProcessed(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.alertsProcessed.WithLabelValues(outcome).Inc()
	c.processDuration.Observe(took.Seconds())
}

// AlertRejected counts a payload that failed adaptation.
func (c *Collector) AlertRejected(field string) {
	if c == nil {
		return
	}
	c.alertsRejected.WithLabelValues(field).Inc()
}

// TaskCreated counts a created task.
func (c *Collector) TaskCreated(priority string) {
	if c == nil {
		return
	}
	c.tasksCreated.WithLabelValues(priority).Inc()
}

// RuleMatched counts an alert routed to a rule.
func (c *Collector) RuleMatched(rule string) {
	if c == nil {
		return
	}
	c.ruleMatches.WithLabelValues(rule).Inc()
}

// RuleError counts a matcher failure.
func (c *Collector) RuleError(rule string) {
	if c == nil {
		return
	}
	c.ruleErrors.WithLabelValues(rule).Inc()
}

// BatchFlushed counts a flushed batch.
func (c *Collector) BatchFlushed(reason string) {
	if c == nil {
		return
	}
	c.batchFlushes.WithLabelValues(reason).Inc()
}

// Evicted counts sweep evictions for a cache.
func (c *Collector) Evicted(cache string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.evictions.WithLabelValues(cache).Add(float64(n))
}

// SetPendingBatched records the number of alerts waiting in open batches.
func (c *Collector) SetPendingBatched(n int) {
	if c == nil {
		return
	}
	c.pendingBatched.Set(float64(n))
}
