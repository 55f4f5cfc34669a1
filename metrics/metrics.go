// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics exposes Prometheus collectors for allocation and locking.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Allocation outcomes
const (
	OutcomeAssigned = "assigned"
	OutcomeExisting = "existing"
	OutcomeFull     = "full"
	OutcomeAborted  = "aborted"
	OutcomeError    = "error"
)

type Metrics struct {
	registry      *prometheus.Registry
	allocations   *prometheus.CounterVec
	lockWait      prometheus.Histogram
	lockTimeouts  prometheus.Counter
	lockTakeovers prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quickly_assign",
			Name:      "allocations_total",
			Help:      "Allocation calls by record type and outcome.",
		}, []string{"type", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quickly_assign",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for an allocation record lock.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quickly_assign",
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up.",
		}),
		lockTakeovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quickly_assign",
			Name:      "lock_takeovers_total",
			Help:      "Locks taken over after the holder's lease expired.",
		}),
	}
	m.registry.MustRegister(m.allocations, m.lockWait, m.lockTimeouts, m.lockTakeovers)
	return m
}

func (m *Metrics) ObserveAllocation(recordType, outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(recordType, outcome).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveLockTimeout() {
	if m == nil {
		return
	}
	m.lockTimeouts.Inc()
}

func (m *Metrics) ObserveLockTakeover() {
	if m == nil {
		return
	}
	m.lockTakeovers.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
