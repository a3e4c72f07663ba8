// Package metrics exposes Prometheus metrics for the NFSv4 client node
// layer: remote operations, retries, directory cache updates, delegations
// and in-flight asynchronous I/O.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "nfs4client"
	subsystem = "node"
)

// Metrics holds the node-layer collectors.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	dircache   *prometheus.CounterVec
	delegs     *prometheus.GaugeVec
	aio        prometheus.Gauge
}

// New creates and registers the collectors with reg. If reg is nil the
// collectors are created but not registered (useful for testing).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Remote node operations by final status",
		}, []string{"op", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Latency of remote node operations including retries",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Protocol errors that caused a resend, by status and action",
		}, []string{"op", "status", "action"}),
		dircache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dircache_updates_total",
			Help:      "Directory cache updates by outcome (patched, trashed, skipped)",
		}, []string{"result"}),
		delegs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delegations_active",
			Help:      "Number of delegations currently held",
		}, []string{"type"}),
		aio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aio_inflight",
			Help:      "Asynchronous I/O operations in flight across all nodes",
		}),
	}

	if reg != nil {
		m.operations = registerOrReuse(reg, m.operations).(*prometheus.CounterVec)
		m.duration = registerOrReuse(reg, m.duration).(*prometheus.HistogramVec)
		m.retries = registerOrReuse(reg, m.retries).(*prometheus.CounterVec)
		m.dircache = registerOrReuse(reg, m.dircache).(*prometheus.CounterVec)
		m.delegs = registerOrReuse(reg, m.delegs).(*prometheus.GaugeVec)
		m.aio = registerOrReuse(reg, m.aio).(prometheus.Gauge)
	}

	return m
}

// ObserveOperation records the outcome and latency of one operation.
func (m *Metrics) ObserveOperation(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordRetry counts one resend of op after status.
func (m *Metrics) RecordRetry(op, status, action string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op, status, action).Inc()
}

// RecordDirCache counts one directory cache update.
func (m *Metrics) RecordDirCache(result string) {
	if m == nil {
		return
	}
	m.dircache.WithLabelValues(result).Inc()
}

// DelegationGranted increments the active delegation gauge.
func (m *Metrics) DelegationGranted(typ string) {
	if m == nil {
		return
	}
	m.delegs.WithLabelValues(typ).Inc()
}

// DelegationReturned decrements the active delegation gauge.
func (m *Metrics) DelegationReturned(typ string) {
	if m == nil {
		return
	}
	m.delegs.WithLabelValues(typ).Dec()
}

// AIOStarted increments the in-flight AIO gauge.
func (m *Metrics) AIOStarted() {
	if m == nil {
		return
	}
	m.aio.Inc()
}

// AIOFinished decrements the in-flight AIO gauge.
func (m *Metrics) AIOFinished() {
	if m == nil {
		return
	}
	m.aio.Dec()
}
