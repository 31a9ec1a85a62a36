package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMirror(t *testing.T) (*OTelMirror, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mirror := &OTelMirror{meter: provider.Meter("github.com/lookatitude/dgstream/metrics")}
	return mirror, reader
}

func TestOTelMirror_BindRegistersInstruments(t *testing.T) {
	m := New()
	mirror, reader := newTestMirror(t)
	require.NoError(t, mirror.Bind(m))

	ctx := context.Background()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestOTelMirror_Bind_Idempotent(t *testing.T) {
	m := New()
	mirror, _ := newTestMirror(t)
	require.NoError(t, mirror.Bind(m))
	require.NoError(t, mirror.Bind(m))
}

func TestOTelMirror_GaugesReflectLiveMetrics(t *testing.T) {
	m := New()
	mirror, reader := newTestMirror(t)
	require.NoError(t, mirror.Bind(m))

	m.RecordConnectionCreated()
	m.RecordConnectionCreated()
	m.RecordReleased()

	ctx := context.Background()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
		}
	}
	assert.True(t, found["dgstream.pool.active_connections"])
	assert.True(t, found["dgstream.pool.idle_connections"])
}

func TestOTelMirror_CountersAndHistograms(t *testing.T) {
	m := New()
	mirror, _ := newTestMirror(t)
	require.NoError(t, mirror.Bind(m))

	ctx := context.Background()
	mirror.RecordConnectionCreated(ctx)
	mirror.RecordAcquired(ctx)
	mirror.RecordAcquisitionTimeout(ctx)
	mirror.RecordConnectionError(ctx, "pool.newSession")
	mirror.RecordKeepAliveSent(ctx)
	mirror.RecordTimeoutClosure(ctx)
	mirror.RecordAcquisitionTime(ctx, 12.5)
	mirror.RecordUsageTime(ctx, 500)
	mirror.RecordTimeToFirstTranscript(ctx, 80)
}

func TestOTelMirror_RecordBeforeBindDoesNotPanic(t *testing.T) {
	mirror := NewOTelMirror()
	ctx := context.Background()
	mirror.RecordConnectionCreated(ctx)
	mirror.RecordAcquisitionTime(ctx, 1.0)
}
