// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the realtime
// analysis service.
//
// # Description
//
// Metrics cover the admission layer (rate limit decisions), job lifecycle
// (starts, completions, failures, durations), fan-out transports (active
// websocket/SSE connections, events delivered, keepalives), and cache
// behavior (hits, misses, degradations).
//
// # Integration
//
// Exposed via the /metrics endpoint. Use with Prometheus + Grafana for
// dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "stackstage"

// Subsystem for realtime metrics
const realtimeSubsystem = "realtime"

// RealtimeMetrics holds all Prometheus metrics for the realtime service.
//
// # Description
//
// Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of HTTP requests by endpoint and status.
//   - RateLimitedTotal: Counter of requests rejected by the rate limiter.
//   - JobsTotal: Counter of analysis jobs by terminal outcome.
//   - JobDurationSeconds: Histogram of job start-to-terminal duration.
//   - EventsDeliveredTotal: Counter of events fanned out by transport.
//   - ActiveSubscribers: Gauge of live subscriber connections by transport.
//   - KeepAlivesTotal: Counter of keepalive pings by transport.
//   - CacheOpsTotal: Counter of cache operations by op and outcome.
//   - CacheDegradations: Counter of shared-to-local cache fallbacks.
//
// # Thread Safety
//
// All operations are thread-safe.
type RealtimeMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
	JobsTotal            *prometheus.CounterVec
	JobDurationSeconds   *prometheus.HistogramVec
	EventsDeliveredTotal *prometheus.CounterVec
	ActiveSubscribers    *prometheus.GaugeVec
	KeepAlivesTotal      *prometheus.CounterVec
	CacheOpsTotal        *prometheus.CounterVec
	CacheDegradations    prometheus.Counter
}

// DefaultMetrics is the singleton instance of RealtimeMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RealtimeMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Call once at application
// startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RealtimeMetrics {
	DefaultMetrics = &RealtimeMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter, by endpoint",
			},
			[]string{"endpoint"},
		),

		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "jobs_total",
				Help:      "Analysis jobs by terminal outcome (completed, error, cancelled)",
			},
			[]string{"outcome"},
		),

		JobDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "job_duration_seconds",
				Help:      "Analysis job duration from start to terminal state",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		EventsDeliveredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "events_delivered_total",
				Help:      "Progress events delivered to subscribers by transport",
			},
			[]string{"transport"},
		),

		ActiveSubscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "active_subscribers",
				Help:      "Currently connected subscribers by transport",
			},
			[]string{"transport"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "keepalives_total",
				Help:      "Keepalive pings sent by transport",
			},
			[]string{"transport"},
		),

		CacheOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "cache_ops_total",
				Help:      "Cache operations by op and outcome (hit, miss, error)",
			},
			[]string{"op", "outcome"},
		),

		CacheDegradations: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: realtimeSubsystem,
				Name:      "cache_degradations_total",
				Help:      "Transitions from shared cache to the process-local map",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Transport Names
// =============================================================================

// Transport labels a fan-out transport for metrics.
type Transport string

const (
	// TransportWebsocket is the push transport.
	TransportWebsocket Transport = "websocket"

	// TransportSSE is the pull transport.
	TransportSSE Transport = "sse"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records one handled HTTP request.
func (m *RealtimeMetrics) RecordRequest(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordRateLimited records a 429 response.
func (m *RealtimeMetrics) RecordRateLimited(endpoint string) {
	m.RateLimitedTotal.WithLabelValues(endpoint).Inc()
}

// RecordJobOutcome records a job reaching a terminal state.
//
// # Inputs
//
//   - outcome: "completed", "error", or "cancelled".
//   - seconds: Start-to-terminal duration.
func (m *RealtimeMetrics) RecordJobOutcome(outcome string, seconds float64) {
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// SubscriberConnected increments the active subscriber gauge.
func (m *RealtimeMetrics) SubscriberConnected(transport Transport) {
	m.ActiveSubscribers.WithLabelValues(string(transport)).Inc()
}

// SubscriberDisconnected decrements the active subscriber gauge.
func (m *RealtimeMetrics) SubscriberDisconnected(transport Transport) {
	m.ActiveSubscribers.WithLabelValues(string(transport)).Dec()
}

// RecordEventDelivered counts one event handed to a subscriber.
func (m *RealtimeMetrics) RecordEventDelivered(transport Transport) {
	m.EventsDeliveredTotal.WithLabelValues(string(transport)).Inc()
}

// RecordKeepAlive counts one keepalive ping.
func (m *RealtimeMetrics) RecordKeepAlive(transport Transport) {
	m.KeepAlivesTotal.WithLabelValues(string(transport)).Inc()
}

// RecordCacheOp records a cache operation outcome.
func (m *RealtimeMetrics) RecordCacheOp(op, outcome string) {
	m.CacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordCacheDegradation records a shared-to-local fallback.
func (m *RealtimeMetrics) RecordCacheDegradation() {
	m.CacheDegradations.Inc()
}
