// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

const metricsNamespace = "session_lifecycle"

// Metrics holds the Prometheus collectors updated by the services. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	batchItems       *prometheus.CounterVec
	batchEffects     *prometheus.CounterVec
	batchDuration    *prometheus.GaugeVec
	batchLastSuccess *prometheus.GaugeVec
	providerCalls    *prometheus.CounterVec
	ingestedEvents   *prometheus.CounterVec
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_items_total",
			Help:      "Items evaluated by batch runs, by outcome.",
		}, []string{"operation", "outcome"}),
		batchEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batch_effects_total",
			Help:      "Effects applied by batch runs, by kind.",
		}, []string{"operation", "kind", "dry_run"}),
		batchDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of the last batch run.",
		}, []string{"operation"}),
		batchLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "batch_last_success_timestamp_seconds",
			Help:      "Finish time of the last batch run without errors.",
		}, []string{"operation"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "video_provider_calls_total",
			Help:      "Video provider calls, by provider, call and result.",
		}, []string{"provider", "call", "result"}),
		ingestedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attendance_events_total",
			Help:      "Attendance events received, by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.batchItems,
		m.batchEffects,
		m.batchDuration,
		m.batchLastSuccess,
		m.providerCalls,
		m.ingestedEvents,
	)
	return m
}

// ObserveSummary records the outcome of a finished batch run.
func (m *Metrics) ObserveSummary(summary *models.BatchSummary) {
	if m == nil || summary == nil {
		return
	}
	op := summary.Operation
	dryRun := "false"
	if summary.DryRun {
		dryRun = "true"
	}

	applied := 0
	for kind, n := range summary.TransitionedByKind {
		m.batchEffects.WithLabelValues(op, kind, dryRun).Add(float64(n))
		applied += n
	}
	m.batchItems.WithLabelValues(op, string(models.OutcomeApplied)).Add(float64(applied))
	m.batchItems.WithLabelValues(op, string(models.OutcomeSkipped)).Add(float64(summary.Skipped))
	m.batchItems.WithLabelValues(op, string(models.OutcomeError)).Add(float64(summary.ErrorCount))

	if !summary.FinishedAt.IsZero() {
		m.batchDuration.WithLabelValues(op).Set(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	}
	if summary.ExitStatus() == models.ExitSuccess {
		m.batchLastSuccess.WithLabelValues(op).Set(float64(summary.FinishedAt.Unix()))
	}
}

// ObserveProviderCall counts one video provider call.
func (m *Metrics) ObserveProviderCall(provider, call string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerCalls.WithLabelValues(provider, call, result).Inc()
}

// ObserveIngest counts ingested attendance events.
func (m *Metrics) ObserveIngest(resp models.AttendanceIngestResponse) {
	if m == nil {
		return
	}
	m.ingestedEvents.WithLabelValues("accepted").Add(float64(resp.Accepted))
	m.ingestedEvents.WithLabelValues("duplicate").Add(float64(resp.Duplicates))
	m.ingestedEvents.WithLabelValues("rejected").Add(float64(resp.Rejected))
}
