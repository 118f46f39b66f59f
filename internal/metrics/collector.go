// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records engine metrics. All record methods are safe to call
// on a nil collector, so instrumented code never has to guard.
type Collector struct {
	stepExecutionsTotal   *prometheus.CounterVec
	stepExecutionDuration *prometheus.HistogramVec

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheInvalidations prometheus.Counter

	resources prometheus.Gauge

	logger *zap.Logger
}

// NewCollector registers the engine metrics under the given namespace.
// Namespaces must be unique per process.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.stepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step executions",
		},
		[]string{"kind", "status"},
	)

	c.stepExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_execution_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_executions_total",
			Help:      "Total number of resource executions",
		},
		[]string{"status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resource_execution_duration_seconds",
			Help:      "Resource execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		},
		[]string{"cache_type"},
	)

	c.cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total number of cache entries invalidated by edits",
		},
	)

	c.resources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workspace_resources",
			Help:      "Number of resources in the workspace",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordStepExecution records one step execution.
func (c *Collector) RecordStepExecution(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepExecutionsTotal.WithLabelValues(kind, status).Inc()
	c.stepExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordExecution records one resource execution.
func (c *Collector) RecordExecution(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCacheHit records a result cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a result cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordInvalidations records cache entries invalidated by an edit.
func (c *Collector) RecordInvalidations(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.cacheInvalidations.Add(float64(n))
}

// SetResourceCount records the current number of workspace resources.
func (c *Collector) SetResourceCount(n int) {
	if c == nil {
		return
	}
	c.resources.Set(float64(n))
}
