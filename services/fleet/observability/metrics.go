// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the fleet service.
//
// # Description
//
// Metrics cover the workflow engine (runs, stage latency), the UEBA guard
// (decisions, alerts) and the fleet correlator (hazards, procurement).
// Exposed via the /metrics endpoint for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// All helper methods are nil-receiver safe so components can run without
// metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fleet"

// Metrics holds all Prometheus metrics for the fleet service.
type Metrics struct {
	// RunsStarted counts workflow runs by entry path.
	// Labels: source (ingest, demo)
	RunsStarted *prometheus.CounterVec

	// RunsCompleted counts terminal runs by final stage.
	// Labels: terminal_stage (end, blocked)
	RunsCompleted *prometheus.CounterVec

	// StageDurationSeconds measures per-stage execution latency.
	// Labels: stage
	StageDurationSeconds *prometheus.HistogramVec

	// StageRetriesTotal counts collaborator retries by stage.
	// Labels: stage
	StageRetriesTotal *prometheus.CounterVec

	// GuardDecisionsTotal counts guard verdicts.
	// Labels: outcome (allowed, allowed_flagged, denied_capability,
	// denied_quarantined)
	GuardDecisionsTotal *prometheus.CounterVec

	// AlertsTotal counts UEBA alerts by severity.
	// Labels: severity (low, medium, high)
	AlertsTotal *prometheus.CounterVec

	// HazardBroadcastsTotal counts emitted hazard broadcasts.
	HazardBroadcastsTotal prometheus.Counter

	// ProcurementDedupTotal counts procurement requests answered by an
	// existing order.
	ProcurementDedupTotal prometheus.Counter
}

// DefaultMetrics is the singleton initialized by InitMetrics. Components
// read it at construction; a nil value disables metric recording.
var DefaultMetrics *Metrics

// InitMetrics creates and registers all fleet metrics.
//
// # Description
//
// Call once at application startup. Panics if called twice (duplicate
// Prometheus registration).
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		RunsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_started_total",
				Help:      "Workflow runs started by entry path",
			},
			[]string{"source"},
		),
		RunsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_completed_total",
				Help:      "Workflow runs reaching a terminal stage",
			},
			[]string{"terminal_stage"},
		),
		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage execution latency",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		StageRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stage_retries_total",
				Help:      "Collaborator retries by stage",
			},
			[]string{"stage"},
		),
		GuardDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "guard_decisions_total",
				Help:      "UEBA guard verdicts by outcome",
			},
			[]string{"outcome"},
		),
		AlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ueba_alerts_total",
				Help:      "UEBA alerts by severity",
			},
			[]string{"severity"},
		),
		HazardBroadcastsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "hazard_broadcasts_total",
				Help:      "Deduplicated hazard broadcasts emitted",
			},
		),
		ProcurementDedupTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "procurement_dedup_total",
				Help:      "Procurement requests answered by an existing order",
			},
		),
	}
	return DefaultMetrics
}

// RecordRunStarted increments the started-runs counter.
func (m *Metrics) RecordRunStarted(source string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(source).Inc()
}

// RecordRunCompleted increments the completed-runs counter.
func (m *Metrics) RecordRunCompleted(terminalStage string) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(terminalStage).Inc()
}

// RecordStageDuration observes one stage execution.
func (m *Metrics) RecordStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordStageRetry counts one collaborator retry.
func (m *Metrics) RecordStageRetry(stage string) {
	if m == nil {
		return
	}
	m.StageRetriesTotal.WithLabelValues(stage).Inc()
}

// RecordGuardDecision counts one guard verdict.
func (m *Metrics) RecordGuardDecision(outcome string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAlert counts one UEBA alert.
func (m *Metrics) RecordAlert(severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(severity).Inc()
}

// RecordHazardBroadcast counts one emitted broadcast.
func (m *Metrics) RecordHazardBroadcast() {
	if m == nil {
		return
	}
	m.HazardBroadcastsTotal.Inc()
}

// RecordProcurementDedup counts one deduplicated procurement request.
func (m *Metrics) RecordProcurementDedup() {
	if m == nil {
		return
	}
	m.ProcurementDedupTotal.Inc()
}
