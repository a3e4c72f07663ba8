package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "nfs4client", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.False(t, IsEnabled())
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartOperationNoop(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := StartOperation(context.Background(), "LookUp", 12, Filename("a"))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	// Must not panic on a no-op span.
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	AddEvent(ctx, "retry", Attempts(2))
	SetAttributes(ctx, Change(5))
}

func TestOperationSpanName(t *testing.T) {
	assert.Equal(t, "nfs4.AcquireLock", OperationSpanName("AcquireLock"))
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name string
		kv   attribute.KeyValue
		key  string
	}{
		{"Server", Server("srv:2049"), AttrServer},
		{"Handle", Handle([]byte{0xde, 0xad}), AttrHandle},
		{"FileID", FileID(9), AttrFileID},
		{"Status", Status(10008), AttrStatus},
		{"Offset", Offset(4096), AttrOffset},
		{"Count", Count(512), AttrCount},
		{"DelegType", DelegType(1), AttrDelegType},
		{"CacheHit", CacheHit(true), AttrCacheHit},
		{"CacheResult", CacheResult("patched"), AttrCacheResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, string(tt.kv.Key))
		})
	}

	assert.Equal(t, "dead", Handle([]byte{0xde, 0xad}).Value.AsString())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Equal(t, "AlwaysOnSampler", sampler(2).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Equal(t, "AlwaysOffSampler", sampler(-1).Description())
	assert.Equal(t, "TraceIDRatioBased{0.25}", sampler(0.25).Description())
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(Config{Endpoint: "collector:4317"}), 1)
	assert.Len(t, exporterOptions(Config{Endpoint: "collector:4317", Insecure: true}), 3)
}
