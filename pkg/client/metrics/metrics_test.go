package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("LOOKUP", "OK", time.Millisecond)
		m.RecordRetry("OPEN", "NFS4ERR_DELAY", "retry")
		m.RecordDirCache("patched")
		m.DelegationGranted("read")
		m.DelegationReturned("read")
		m.AIOStarted()
		m.AIOFinished()
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("LOOKUP", "OK", time.Millisecond)
	m.ObserveOperation("LOOKUP", "OK", time.Millisecond)
	m.RecordRetry("OPEN", "NFS4ERR_GRACE", "retry")
	m.RecordDirCache("trashed")
	m.DelegationGranted("write")
	m.AIOStarted()
	m.AIOStarted()
	m.AIOFinished()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("LOOKUP", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("OPEN", "NFS4ERR_GRACE", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dircache.WithLabelValues("trashed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delegs.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aio))
}

func TestReRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	first.RecordDirCache("patched")

	second := New(reg)
	second.RecordDirCache("patched")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.dircache.WithLabelValues("patched")))
}
