package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMirror mirrors a Metrics value into OpenTelemetry instruments: the two
// gauges are observed live at collection time, and each counter or
// histogram receives the events that Metrics forwards to it once attached
// via Metrics.AttachOTel. It serves embedders who already export OTel metrics
// and want the fleet's counters alongside everything else. It is optional:
// a Metrics value works standalone without ever constructing one of these.
type OTelMirror struct {
	meter metric.Meter

	once sync.Once
	err  error

	activeGauge metric.Int64ObservableGauge
	idleGauge   metric.Int64ObservableGauge

	createdCounter      metric.Int64Counter
	acquiredCounter     metric.Int64Counter
	timeoutCounter      metric.Int64Counter
	errorCounter        metric.Int64Counter
	keepAliveCounter    metric.Int64Counter
	timeoutCloseCounter metric.Int64Counter

	acquisitionTimeHist metric.Float64Histogram
	usageTimeHist       metric.Float64Histogram
	firstTranscriptHist metric.Float64Histogram
}

// NewOTelMirror returns a mirror bound to the global OTel meter provider
// under instrumentation name "github.com/lookatitude/dgstream/metrics".
func NewOTelMirror() *OTelMirror {
	return &OTelMirror{
		meter: otel.Meter("github.com/lookatitude/dgstream/metrics"),
	}
}

// Bind registers m's gauges and counters as OTel instruments, wiring the
// observable gauges to read live from m at collection time. Safe to call
// once per OTelMirror; subsequent calls are no-ops.
func (o *OTelMirror) Bind(m *Metrics) error {
	o.once.Do(func() {
		o.err = o.initInstruments(m)
	})
	return o.err
}

func (o *OTelMirror) initInstruments(m *Metrics) error {
	var err error

	o.activeGauge, err = o.meter.Int64ObservableGauge(
		"dgstream.pool.active_connections",
		metric.WithDescription("Number of sessions currently ACTIVE"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(m.ActiveConnections())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	o.idleGauge, err = o.meter.Int64ObservableGauge(
		"dgstream.pool.idle_connections",
		metric.WithDescription("Number of sessions currently IDLE"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(m.IdleConnections())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	o.createdCounter, err = o.meter.Int64Counter(
		"dgstream.pool.connections_created",
		metric.WithDescription("Total sessions created"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}

	o.acquiredCounter, err = o.meter.Int64Counter(
		"dgstream.pool.connections_acquired",
		metric.WithDescription("Total successful acquisitions"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}

	o.timeoutCounter, err = o.meter.Int64Counter(
		"dgstream.pool.acquisition_timeouts",
		metric.WithDescription("Total acquire() calls that exceeded the deadline"),
	)
	if err != nil {
		return err
	}

	o.errorCounter, err = o.meter.Int64Counter(
		"dgstream.pool.connection_errors",
		metric.WithDescription("Total connection errors recorded against the fleet"),
	)
	if err != nil {
		return err
	}

	o.keepAliveCounter, err = o.meter.Int64Counter(
		"dgstream.session.keep_alives_sent",
		metric.WithDescription("Total KeepAlive control frames emitted"),
	)
	if err != nil {
		return err
	}

	o.timeoutCloseCounter, err = o.meter.Int64Counter(
		"dgstream.session.idle_timeout_closures",
		metric.WithDescription("Total sessions closed by the idle-timeout check"),
	)
	if err != nil {
		return err
	}

	o.acquisitionTimeHist, err = o.meter.Float64Histogram(
		"dgstream.pool.acquisition_time",
		metric.WithDescription("Duration of successful acquire() calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.usageTimeHist, err = o.meter.Float64Histogram(
		"dgstream.session.usage_time",
		metric.WithDescription("Duration a session was held ACTIVE before release"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.firstTranscriptHist, err = o.meter.Float64Histogram(
		"dgstream.session.time_to_first_transcript",
		metric.WithDescription("Latency between session activation and the first transcript event"),
		metric.WithUnit("ms"),
	)
	return err
}

// RecordAcquisitionTime mirrors an acquisition-time observation into the
// OTel histogram, in addition to whatever recording m itself already did.
func (o *OTelMirror) RecordAcquisitionTime(ctx context.Context, v float64) {
	if o.acquisitionTimeHist != nil {
		o.acquisitionTimeHist.Record(ctx, v)
	}
}

// RecordUsageTime mirrors a usage-time observation into the OTel histogram.
func (o *OTelMirror) RecordUsageTime(ctx context.Context, v float64) {
	if o.usageTimeHist != nil {
		o.usageTimeHist.Record(ctx, v)
	}
}

// RecordTimeToFirstTranscript mirrors a time-to-first-transcript
// observation into the OTel histogram.
func (o *OTelMirror) RecordTimeToFirstTranscript(ctx context.Context, v float64) {
	if o.firstTranscriptHist != nil {
		o.firstTranscriptHist.Record(ctx, v)
	}
}

// RecordConnectionCreated mirrors a create-connection event.
func (o *OTelMirror) RecordConnectionCreated(ctx context.Context) {
	if o.createdCounter != nil {
		o.createdCounter.Add(ctx, 1)
	}
}

// RecordAcquired mirrors an acquire event.
func (o *OTelMirror) RecordAcquired(ctx context.Context) {
	if o.acquiredCounter != nil {
		o.acquiredCounter.Add(ctx, 1)
	}
}

// RecordAcquisitionTimeout mirrors an acquire-timeout event.
func (o *OTelMirror) RecordAcquisitionTimeout(ctx context.Context) {
	if o.timeoutCounter != nil {
		o.timeoutCounter.Add(ctx, 1)
	}
}

// RecordConnectionError mirrors a connection-error event, tagged with op
// for dashboards that split by failing operation.
func (o *OTelMirror) RecordConnectionError(ctx context.Context, op string) {
	if o.errorCounter != nil {
		o.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// RecordKeepAliveSent mirrors a keep-alive emission.
func (o *OTelMirror) RecordKeepAliveSent(ctx context.Context) {
	if o.keepAliveCounter != nil {
		o.keepAliveCounter.Add(ctx, 1)
	}
}

// RecordTimeoutClosure mirrors an idle-timeout closure.
func (o *OTelMirror) RecordTimeoutClosure(ctx context.Context) {
	if o.timeoutCloseCounter != nil {
		o.timeoutCloseCounter.Add(ctx, 1)
	}
}
