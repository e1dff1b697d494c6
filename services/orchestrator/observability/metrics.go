// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the analysis
// pipeline: webhook traffic, event publications, per-stage analysis
// latency, file session churn, and submission finalizations.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "speechassess"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the orchestrator.
//
// Initialize once at startup via InitMetrics(); components reach the
// singleton through Default(), which returns nil when metrics are disabled.
type PipelineMetrics struct {
	// WebhookRequestsTotal counts webhook deliveries by route and outcome.
	// Labels: route, status (ok, malformed, error)
	WebhookRequestsTotal *prometheus.CounterVec

	// EventsPublishedTotal counts broker publications by logical topic.
	// Labels: topic, status (ok, error)
	EventsPublishedTotal *prometheus.CounterVec

	// StageDurationSeconds measures analysis stage latency.
	// Labels: stage (pronunciation, grammar, ...), status (success, error)
	StageDurationSeconds *prometheus.HistogramVec

	// ActiveFileSessions tracks file sessions awaiting cleanup.
	ActiveFileSessions prometheus.Gauge

	// FileSessionsCleanedTotal counts terminal session cleanups.
	// Labels: reason (completed, forced, expired)
	FileSessionsCleanedTotal *prometheus.CounterVec

	// FinalizationsTotal counts submission finalizations.
	// Labels: status (completed, finalization_failed)
	FinalizationsTotal *prometheus.CounterVec
}

// defaultMetrics is the singleton instance, nil until InitMetrics.
var defaultMetrics *PipelineMetrics

// InitMetrics initializes and registers the default metrics instance.
// Call once at application startup; calling twice panics on duplicate
// registration, same as the rest of the promauto-based stack.
func InitMetrics() *PipelineMetrics {
	defaultMetrics = &PipelineMetrics{
		WebhookRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "webhook_requests_total",
				Help:      "Webhook deliveries by route and outcome",
			},
			[]string{"route", "status"},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "events_published_total",
				Help:      "Broker publications by logical topic and outcome",
			},
			[]string{"topic", "status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Analysis stage latency by stage and outcome",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage", "status"},
		),

		ActiveFileSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_file_sessions",
				Help:      "File sessions awaiting terminal cleanup",
			},
		),

		FileSessionsCleanedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "file_sessions_cleaned_total",
				Help:      "Terminal file session cleanups by reason",
			},
			[]string{"reason"},
		),

		FinalizationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "finalizations_total",
				Help:      "Submission finalizations by outcome",
			},
			[]string{"status"},
		),
	}
	return defaultMetrics
}

// Default returns the singleton metrics instance, or nil when metrics are
// disabled. Callers must nil-check.
func Default() *PipelineMetrics {
	return defaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordWebhook records one webhook delivery outcome.
func (m *PipelineMetrics) RecordWebhook(route, status string) {
	m.WebhookRequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordPublish records one broker publication outcome.
func (m *PipelineMetrics) RecordPublish(topic string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(topic, status).Inc()
}

// ObserveStage records one analysis stage completion.
func (m *PipelineMetrics) ObserveStage(stage, status string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage, status).Observe(seconds)
}

// SetActiveFileSessions updates the active session gauge.
func (m *PipelineMetrics) SetActiveFileSessions(n int) {
	m.ActiveFileSessions.Set(float64(n))
}

// RecordSessionCleaned counts one terminal session cleanup.
func (m *PipelineMetrics) RecordSessionCleaned(reason string) {
	m.FileSessionsCleanedTotal.WithLabelValues(reason).Inc()
}

// RecordFinalization counts one submission finalization outcome.
func (m *PipelineMetrics) RecordFinalization(status string) {
	m.FinalizationsTotal.WithLabelValues(status).Inc()
}
