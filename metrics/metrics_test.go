package metrics

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStat_EmptyReportsZeroAverageAndInfMin(t *testing.T) {
	s := newStat()
	assert.Equal(t, 0.0, s.Average())
	assert.Equal(t, int64(0), s.Count())
	assert.True(t, math.IsInf(s.Min(), 1))
	assert.Equal(t, 0.0, s.Max())
}

func TestStat_RecordSequence(t *testing.T) {
	s := newStat()
	s.Record(100)
	s.Record(50)
	s.Record(200)

	assert.InDelta(t, 116.666666, s.Average(), 1e-5)
	assert.Equal(t, 50.0, s.Min())
	assert.Equal(t, 200.0, s.Max())
	assert.Equal(t, int64(3), s.Count())
	assert.LessOrEqual(t, s.Min(), s.Average())
	assert.LessOrEqual(t, s.Average(), s.Max())
}

func TestStat_ConcurrentRecordConverges(t *testing.T) {
	s := newStat()
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			s.Record(float64(v))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), s.Count())
	assert.Equal(t, 1.0, s.Min())
	assert.Equal(t, 100.0, s.Max())
}

func TestMetrics_LifecycleEvents(t *testing.T) {
	m := New()

	m.RecordConnectionCreated()
	m.RecordConnectionCreated()
	m.RecordConnectionCreated()
	assert.Equal(t, int64(3), m.ActiveConnections())
	assert.Equal(t, int64(3), m.TotalConnectionsCreated())

	// Simulate the 3 initial sessions settling into idle via release.
	m.RecordReleased()
	m.RecordReleased()
	m.RecordReleased()
	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(3), m.IdleConnections())

	m.RecordAcquired()
	assert.Equal(t, int64(1), m.ActiveConnections())
	assert.Equal(t, int64(2), m.IdleConnections())
	assert.Equal(t, int64(1), m.TotalConnectionsAcquired())

	m.RecordClosed()
	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(2), m.IdleConnections())
}

func TestMetrics_AcquireReleaseRoundTripReturnsGaugesToOrigin(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.RecordConnectionCreated()
		m.RecordReleased()
	}
	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(5), m.IdleConnections())

	const n = 7
	for i := 0; i < n; i++ {
		m.RecordAcquired()
	}
	for i := 0; i < n; i++ {
		m.RecordReleased()
	}

	assert.Equal(t, int64(0), m.ActiveConnections())
	assert.Equal(t, int64(5), m.IdleConnections())
}

func TestMetrics_PoolUtilization(t *testing.T) {
	m := New()
	assert.Equal(t, 0.0, m.PoolUtilization())

	m.RecordConnectionCreated()
	m.RecordConnectionCreated()
	m.RecordReleased()

	assert.InDelta(t, 50.0, m.PoolUtilization(), 1e-9)
}

func TestMetrics_CountersAndTimeouts(t *testing.T) {
	m := New()
	m.RecordAcquisitionTimeout()
	m.RecordConnectionError()
	m.RecordKeepAliveSent()
	m.RecordKeepAliveSent()
	m.RecordTimeoutClosure()

	assert.Equal(t, int64(1), m.TotalAcquisitionTimeouts())
	assert.Equal(t, int64(1), m.TotalConnectionErrors())
	assert.Equal(t, int64(2), m.TotalKeepAlivesSent())
	assert.Equal(t, int64(1), m.TotalTimeoutClosures())
}

func TestMetrics_RunningStats(t *testing.T) {
	m := New()
	m.RecordTimeToFirstTranscript(100)
	m.RecordTimeToFirstTranscript(50)
	m.RecordTimeToFirstTranscript(200)
	assert.InDelta(t, 116.666666, m.TimeToFirstTranscript().Average(), 1e-5)

	m.RecordAcquisitionTime(10)
	assert.Equal(t, 10.0, m.AcquisitionTime().Average())

	m.RecordUsageTime(5)
	assert.Equal(t, 5.0, m.UsageTime().Average())
}

func TestMetrics_AttachOTel_RecordCallsReachTheMirror(t *testing.T) {
	m := New()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mirror := &OTelMirror{meter: provider.Meter("github.com/lookatitude/dgstream/metrics")}

	require.NoError(t, m.AttachOTel(mirror))

	m.RecordConnectionCreated()
	m.RecordAcquired()
	m.RecordAcquisitionTimeout()
	m.RecordConnectionError()
	m.RecordKeepAliveSent()
	m.RecordTimeoutClosure()
	m.RecordAcquisitionTime(12.5)
	m.RecordUsageTime(500)
	m.RecordTimeToFirstTranscript(80)

	ctx := context.Background()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if data, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[metric.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["dgstream.pool.connections_created"])
	assert.Equal(t, int64(1), sums["dgstream.pool.connections_acquired"])
	assert.Equal(t, int64(1), sums["dgstream.pool.acquisition_timeouts"])
	assert.Equal(t, int64(1), sums["dgstream.pool.connection_errors"])
	assert.Equal(t, int64(1), sums["dgstream.session.keep_alives_sent"])
	assert.Equal(t, int64(1), sums["dgstream.session.idle_timeout_closures"])
}

func TestMetrics_AttachOTel_NilMirrorRecordsStillWorkWithoutAttach(t *testing.T) {
	m := New()
	m.RecordConnectionCreated()
	assert.Equal(t, int64(1), m.TotalConnectionsCreated())
}
