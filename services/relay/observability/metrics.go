// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the relay server.
//
// # Description
//
// Metrics cover:
//   - Relay sessions (active gauge, connect counter, throttled commands)
//   - Command executions by kind and outcome, with latency
//   - Broadcast fan-out and dropped sessions
//   - Supervised process lifecycle events and running state
//   - Deployments, secret scan findings and content store operations
//
// *RelayMetrics implements the observer interfaces of the supervisor and
// content store packages, so it can be handed to them directly.
//
// # Integration
//
// Metrics are exposed via /metrics on the API listener.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *RelayMetrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "deployhelper"

// CommandKind labels command executions.
type CommandKind string

const (
	CommandKindShell     CommandKind = "shell"
	CommandKindLifecycle CommandKind = "lifecycle"
	CommandKindDeploy    CommandKind = "firebase_deploy"
)

// RelayMetrics holds all Prometheus metrics for the relay server.
type RelayMetrics struct {
	// SessionsActive is the number of open relay sessions.
	SessionsActive prometheus.Gauge

	// SessionsTotal counts accepted relay sessions.
	SessionsTotal prometheus.Counter

	// CommandsTotal counts executed commands.
	// Labels: kind (shell, lifecycle, firebase_deploy), status (success, error)
	CommandsTotal *prometheus.CounterVec

	// CommandDurationSeconds measures command execution time.
	// Labels: kind
	CommandDurationSeconds *prometheus.HistogramVec

	// ThrottledTotal counts commands rejected by the per-session rate limit.
	ThrottledTotal prometheus.Counter

	// ProtocolErrorsTotal counts malformed inbound payloads.
	ProtocolErrorsTotal prometheus.Counter

	// BroadcastsTotal counts broadcast messages.
	BroadcastsTotal prometheus.Counter

	// BroadcastDropsTotal counts sessions dropped after a failed send.
	BroadcastDropsTotal prometheus.Counter

	// ProcessEventsTotal counts lifecycle events.
	// Labels: process, event (started, stopped, exited, failed)
	ProcessEventsTotal *prometheus.CounterVec

	// ProcessRunning is 1 while the named process is running.
	// Labels: process
	ProcessRunning *prometheus.GaugeVec

	// DeploymentsTotal counts deployments.
	// Labels: status (success, error), kind (error kind or "none")
	DeploymentsTotal *prometheus.CounterVec

	// DeploymentDurationSeconds measures end-to-end deployment time.
	DeploymentDurationSeconds prometheus.Histogram

	// SecretFindingsTotal counts credential pattern matches in deployed code.
	// Labels: action (warned, blocked)
	SecretFindingsTotal *prometheus.CounterVec

	// StoreOperationsTotal counts content store calls.
	// Labels: backend, op (read, write), outcome (success, not_found, error)
	StoreOperationsTotal *prometheus.CounterVec

	// StoreOperationSeconds measures content store call latency.
	// Labels: backend, op
	StoreOperationSeconds *prometheus.HistogramVec
}

// NewRelayMetrics creates and registers all metrics with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Pass prometheus.DefaultRegisterer in
//     production and prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)

	return &RelayMetrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "sessions_active",
			Help:      "Number of open relay sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Total relay sessions accepted",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "commands_total",
			Help:      "Total commands executed by kind and status",
		}, []string{"kind", "status"}),
		CommandDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "command_duration_seconds",
			Help:      "Command execution time",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		ThrottledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "throttled_total",
			Help:      "Commands rejected by the per-session rate limit",
		}),
		ProtocolErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "protocol_errors_total",
			Help:      "Malformed inbound payloads",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to all sessions",
		}),
		BroadcastDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "broadcast_drops_total",
			Help:      "Sessions dropped after a failed broadcast send",
		}),
		ProcessEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "process_events_total",
			Help:      "Process lifecycle events",
		}, []string{"process", "event"}),
		ProcessRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "process_running",
			Help:      "1 while the process is running",
		}, []string{"process"}),
		DeploymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "deploy",
			Name:      "deployments_total",
			Help:      "Deployments by status and error kind",
		}, []string{"status", "kind"}),
		DeploymentDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "End-to-end deployment time",
			Buckets:   prometheus.DefBuckets,
		}),
		SecretFindingsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "deploy",
			Name:      "secret_findings_total",
			Help:      "Credential pattern matches in deployed code",
		}, []string{"action"}),
		StoreOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "contentstore",
			Name:      "operations_total",
			Help:      "Content store calls by backend, operation and outcome",
		}, []string{"backend", "op", "outcome"}),
		StoreOperationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "contentstore",
			Name:      "operation_seconds",
			Help:      "Content store call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
	}
}

// =============================================================================
// Recording Methods
// =============================================================================

// SessionOpened records a new relay session.
func (m *RelayMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed records a closed relay session.
func (m *RelayMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// CommandFinished records one command execution.
func (m *RelayMetrics) CommandFinished(kind CommandKind, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(string(kind), statusLabel(success)).Inc()
	m.CommandDurationSeconds.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Throttled records a rate-limited command.
func (m *RelayMetrics) Throttled() {
	if m == nil {
		return
	}
	m.ThrottledTotal.Inc()
}

// ProtocolError records a malformed payload.
func (m *RelayMetrics) ProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrorsTotal.Inc()
}

// Broadcast records one broadcast and the sessions it dropped.
func (m *RelayMetrics) Broadcast(dropped int) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
	m.BroadcastDropsTotal.Add(float64(dropped))
}

// ObserveProcess implements supervisor.Observer.
func (m *RelayMetrics) ObserveProcess(name, event string, running bool) {
	if m == nil {
		return
	}
	m.ProcessEventsTotal.WithLabelValues(name, event).Inc()
	v := 0.0
	if running {
		v = 1
	}
	m.ProcessRunning.WithLabelValues(name).Set(v)
}

// DeploymentFinished records a deployment. kind is the error kind on
// failure and ignored on success.
func (m *RelayMetrics) DeploymentFinished(success bool, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if success || kind == "" {
		kind = "none"
	}
	m.DeploymentsTotal.WithLabelValues(statusLabel(success), kind).Inc()
	m.DeploymentDurationSeconds.Observe(elapsed.Seconds())
}

// SecretFindings records n credential matches in one artifact.
func (m *RelayMetrics) SecretFindings(n int, blocked bool) {
	if m == nil {
		return
	}
	action := "warned"
	if blocked {
		action = "blocked"
	}
	m.SecretFindingsTotal.WithLabelValues(action).Add(float64(n))
}

// ObserveStoreOp implements contentstore.Observer.
func (m *RelayMetrics) ObserveStoreOp(backend, op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(backend, op, outcome).Inc()
	m.StoreOperationSeconds.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
