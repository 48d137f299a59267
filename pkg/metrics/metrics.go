// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the platform
// identity responder: handshakes, signing operations, backend selection,
// initialization failures and connection gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all platid metrics
	Namespace = "platid"

	// Label names
	LabelResult     = "result"
	LabelBackend    = "backend"
	LabelStatus     = "status"
	LabelStage      = "stage"
	LabelProtocol   = "protocol"
	LabelRoute      = "route"
	LabelStatusCode = "status_code"
	LabelReason     = "reason"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Initialization stages
	StageConfig      = "config"
	StageEngine      = "engine"
	StageKey         = "key"
	StageCertificate = "certificate"

	// Connection rejection reasons
	ReasonRateLimit      = "rate_limit"
	ReasonMaxConnections = "max_connections"
)

var (
	// HandshakesTotal counts handshakes by result (success, fatal)
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "handshakes_total",
			Help:      "Total number of handshakes by result",
		},
		[]string{LabelResult},
	)

	// SignaturesTotal counts nonce signing operations by backend and status
	SignaturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signatures_total",
			Help:      "Total number of nonce signatures by backend and status",
		},
		[]string{LabelBackend, LabelStatus},
	)

	// SignatureDuration tracks the private key operation latency.
	// Hardware operations are orders of magnitude slower than software ones.
	SignatureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "signature_duration_seconds",
			Help:      "Duration of nonce signing operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelBackend},
	)

	// BackendSelectionsTotal counts which key backend each responder selected
	BackendSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_selections_total",
			Help:      "Total number of key backend selections by backend",
		},
		[]string{LabelBackend},
	)

	// InitFailuresTotal counts responder initialization failures by stage
	InitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "init_failures_total",
			Help:      "Total number of responder initialization failures by stage",
		},
		[]string{LabelStage},
	)

	// SuppressedResponsesTotal counts challenges that produced no response
	SuppressedResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "suppressed_responses_total",
			Help:      "Total number of challenges answered with no response",
		},
	)

	// RejectedConnectionsTotal counts verifier connections closed before a
	// responder was created
	RejectedConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejected_connections_total",
			Help:      "Total number of verifier connections rejected by reason",
		},
		[]string{LabelReason},
	)

	// ActiveConnections tracks open connections by protocol (tcp, http)
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of active connections by protocol",
		},
		[]string{LabelProtocol},
	)

	// ConnectionDuration tracks how long connections stay open by protocol
	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of connections in seconds by protocol",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 300},
		},
		[]string{LabelProtocol},
	)

	// HTTPRequestsTotal tracks status endpoint requests by route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		},
		[]string{LabelRoute, LabelStatusCode},
	)

	// HTTPRequestDuration tracks status endpoint request latency by route
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{LabelRoute},
	)

	// Goroutines is updated by the resource collector
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes is updated by the resource collector
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the daemon uptime in seconds
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordHandshake records a handshake outcome
func RecordHandshake(result string) {
	if !enabled.Load() {
		return
	}
	HandshakesTotal.WithLabelValues(result).Inc()
}

// RecordSignature records a signing operation with its duration in seconds.
//
// Example:
//
//	start := time.Now()
//	sig, err := key.Sign(nil, nonce, crypto.Hash(0))
//	status := metrics.StatusSuccess
//	if err != nil {
//	    status = metrics.StatusError
//	}
//	metrics.RecordSignature("software", status, time.Since(start).Seconds())
func RecordSignature(backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	SignaturesTotal.WithLabelValues(backend, status).Inc()
	SignatureDuration.WithLabelValues(backend).Observe(duration)
}

// RecordBackendSelection records the backend a responder selected
func RecordBackendSelection(backend string) {
	if !enabled.Load() {
		return
	}
	BackendSelectionsTotal.WithLabelValues(backend).Inc()
}

// RecordInitFailure records a responder initialization failure at stage
func RecordInitFailure(stage string) {
	if !enabled.Load() {
		return
	}
	InitFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordSuppressedResponse records a challenge that was not answered
func RecordSuppressedResponse() {
	if !enabled.Load() {
		return
	}
	SuppressedResponsesTotal.Inc()
}

// RecordHTTPRequest records a status endpoint request
func RecordHTTPRequest(route, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration)
}

// RecordRejectedConnection records a connection rejected for reason
func RecordRejectedConnection(reason string) {
	if !enabled.Load() {
		return
	}
	RejectedConnectionsTotal.WithLabelValues(reason).Inc()
}

// IncrementActiveConnections increments the active connection count for a protocol.
func IncrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Inc()
}

// DecrementActiveConnections decrements the active connection count for a protocol.
func DecrementActiveConnections(protocol string) {
	if !enabled.Load() {
		return
	}
	ActiveConnections.WithLabelValues(protocol).Dec()
}

// SetEnabled switches recording on or off. Registered collectors keep
// their last values while disabled.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// Enable turns recording on
func Enable() { SetEnabled(true) }

// Disable turns recording off
func Disable() { SetEnabled(false) }

// IsEnabled reports whether recording is on
func IsEnabled() bool {
	return enabled.Load()
}
