// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package statemap

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "awaitstate_statemap"

// Wait outcomes, as reported by the waits_total result label.
const (
	resultSatisfied = "satisfied"
	resultNotFound  = "not_found"
	resultTimeout   = "timeout"
	resultCancelled = "cancelled"
)

// Collector is a prometheus.Collector that collects metrics about a Map.
type Collector struct {
	keys         prometheus.Gauge
	waiters      prometheus.Gauge
	transitions  prometheus.Counter
	waits        *prometheus.CounterVec
	waitDuration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		keys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "keys",
				Help:      "The number of keys held in the map.",
			},
		),
		waiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "waiters",
				Help:      "The number of callers currently waiting on a key.",
			},
		),
		transitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "The number of state changes recorded.",
			},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "waits_total",
				Help:      "The number of completed waits, by result.",
			}, []string{"result"},
		),
		waitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "wait_duration_seconds",
				Help:      "The time callers spent waiting for a predicate.",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.keys.Describe(ch)
	c.waiters.Describe(ch)
	c.transitions.Describe(ch)
	c.waits.Describe(ch)
	c.waitDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.keys.Collect(ch)
	c.waiters.Collect(ch)
	c.transitions.Collect(ch)
	c.waits.Collect(ch)
	c.waitDuration.Collect(ch)
}

func (c *Collector) observeWait(elapsed time.Duration, err error) {
	result := resultSatisfied
	switch {
	case err == nil:
	case errors.Is(err, ErrKeyNotFound):
		result = resultNotFound
	case errors.Is(err, ErrTimeoutExpired):
		result = resultTimeout
	default:
		result = resultCancelled
	}
	c.waits.WithLabelValues(result).Inc()
	c.waitDuration.Observe(elapsed.Seconds())
}
