// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the gateway's prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/toolgate/toolgate/pkg/gateway"
)

// Metrics holds the gateway's prometheus instruments.
type Metrics struct {
	executionDuration   *prometheus.HistogramVec
	manifestResolutions *prometheus.CounterVec
	eventsApplied       prometheus.Counter
	projectorLag        prometheus.Gauge
	sourceHealth        *prometheus.GaugeVec
}

// NewMetrics registers the gateway instruments with the registerer, or the
// default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool", "status"},
		),
		manifestResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_manifest_resolutions_total",
				Help: "Total number of manifest resolutions by kind",
			},
			[]string{"kind"},
		),
		eventsApplied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_projector_events_applied_total",
				Help: "Total number of events applied to the projection store",
			},
		),
		projectorLag: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_projector_lag_events",
				Help: "Events in the log not yet applied to the projection store",
			},
		),
		sourceHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolgate_source_health",
				Help: "Source health: 0 unknown, 1 healthy, 2 degraded, 3 unhealthy",
			},
			[]string{"source"},
		),
	}
}

// ObserveExecution records one tool execution.
func (m *Metrics) ObserveExecution(tool string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = string(gateway.KindOf(err))
	}
	m.executionDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// ObserveResolution records one manifest resolution of the given kind
// ("group" or "caller").
func (m *Metrics) ObserveResolution(kind string) {
	m.manifestResolutions.WithLabelValues(kind).Inc()
}

// ObserveEventsApplied records a projector batch.
func (m *Metrics) ObserveEventsApplied(count int) {
	m.eventsApplied.Add(float64(count))
}

// SetProjectorLag records how far the projections trail the event log.
func (m *Metrics) SetProjectorLag(pending int) {
	m.projectorLag.Set(float64(pending))
}

// SetSourceHealth records a source's health state.
func (m *Metrics) SetSourceHealth(source string, health gateway.SourceHealth) {
	var v float64
	switch health {
	case gateway.SourceHealthy:
		v = 1
	case gateway.SourceDegraded:
		v = 2
	case gateway.SourceUnhealthy:
		v = 3
	}
	m.sourceHealth.WithLabelValues(source).Set(v)
}
