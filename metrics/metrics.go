// Package metrics implements C3: a bag of lock-free counters and running
// statistics shared by pooledsession.PooledSession and pool.Pool. Every
// recording method is safe for concurrent use without external locking.
package metrics

import (
	"context"
	"math"

	"go.uber.org/atomic"
)

// Stat is a running sum/count/min/max summary that supports concurrent
// recording via compare-and-set retry loops, with no external locking.
type Stat struct {
	sum   atomic.Float64
	count atomic.Int64
	min   atomic.Float64
	max   atomic.Float64
}

// newStat returns a Stat with its documented sentinels: min = +Inf,
// max = 0. An empty Stat reports Average() = 0 and Min() = +Inf.
func newStat() *Stat {
	s := &Stat{}
	s.min.Store(math.Inf(1))
	s.max.Store(0)
	return s
}

// Record adds value to the running statistic, updating min and max via
// CAS retry loops so concurrent recorders converge without locking.
func (s *Stat) Record(value float64) {
	s.sum.Add(value)
	s.count.Inc()

	for {
		cur := s.min.Load()
		if value >= cur {
			break
		}
		if s.min.CAS(cur, value) {
			break
		}
	}
	for {
		cur := s.max.Load()
		if value <= cur {
			break
		}
		if s.max.CAS(cur, value) {
			break
		}
	}
}

// Count returns the number of recorded observations.
func (s *Stat) Count() int64 { return s.count.Load() }

// Average returns sum/count, or 0 if no observations were recorded.
func (s *Stat) Average() float64 {
	n := s.count.Load()
	if n == 0 {
		return 0
	}
	return s.sum.Load() / float64(n)
}

// Min returns the smallest recorded value, or +Inf if none were recorded.
func (s *Stat) Min() float64 { return s.min.Load() }

// Max returns the largest recorded value, or 0 if none were recorded.
func (s *Stat) Max() float64 { return s.max.Load() }

// Metrics is the fleet-wide metrics sink shared by every PooledSession and
// the owning Pool. The zero value is not usable; construct with New.
type Metrics struct {
	activeConnections atomic.Int64
	idleConnections   atomic.Int64

	totalConnectionsCreated  atomic.Int64
	totalConnectionsAcquired atomic.Int64
	totalAcquisitionTimeouts atomic.Int64
	totalConnectionErrors    atomic.Int64
	totalKeepAlivesSent      atomic.Int64
	totalTimeoutClosures     atomic.Int64

	timeToFirstTranscript *Stat
	acquisitionTime       *Stat
	usageTime             *Stat

	otel *OTelMirror
}

// New returns a Metrics with all counters zeroed and gauges at 0.
func New() *Metrics {
	return &Metrics{
		timeToFirstTranscript: newStat(),
		acquisitionTime:       newStat(),
		usageTime:             newStat(),
	}
}

// AttachOTel binds mirror to m and arranges for every subsequent Record*
// call to also mirror into mirror's OTel instruments, in addition to m's own
// atomic bookkeeping. Safe to call at most once; mirror.Bind is idempotent
// but a second AttachOTel call would silently replace the bound mirror, so
// callers should only ever attach one.
func (m *Metrics) AttachOTel(mirror *OTelMirror) error {
	if err := mirror.Bind(m); err != nil {
		return err
	}
	m.otel = mirror
	return nil
}

// RecordConnectionCreated is the create-connection lifecycle event: a new
// session joined the fleet as active.
func (m *Metrics) RecordConnectionCreated() {
	m.activeConnections.Inc()
	m.totalConnectionsCreated.Inc()
	if m.otel != nil {
		m.otel.RecordConnectionCreated(context.Background())
	}
}

// RecordAcquired is the acquire lifecycle event: a session moved from idle
// to active because a caller acquired it.
func (m *Metrics) RecordAcquired() {
	m.activeConnections.Inc()
	m.idleConnections.Dec()
	m.totalConnectionsAcquired.Inc()
	if m.otel != nil {
		m.otel.RecordAcquired(context.Background())
	}
}

// RecordReleased is the release lifecycle event: a session moved from
// active back to idle.
func (m *Metrics) RecordReleased() {
	m.activeConnections.Dec()
	m.idleConnections.Inc()
}

// RecordClosed is the close lifecycle event: a session left the fleet.
// Gauges are decremented from whichever pool it was last known to occupy;
// active is preferred, since a session can only be CLOSED from ACTIVE or
// IDLE, never both.
func (m *Metrics) RecordClosed() {
	if m.activeConnections.Load() > 0 {
		m.activeConnections.Dec()
		return
	}
	if m.idleConnections.Load() > 0 {
		m.idleConnections.Dec()
	}
}

// RecordAcquisitionTimeout records that an acquire() call exceeded its
// deadline.
func (m *Metrics) RecordAcquisitionTimeout() {
	m.totalAcquisitionTimeouts.Inc()
	if m.otel != nil {
		m.otel.RecordAcquisitionTimeout(context.Background())
	}
}

// RecordConnectionError records a transport or construction error against
// a session.
func (m *Metrics) RecordConnectionError() {
	m.totalConnectionErrors.Inc()
	if m.otel != nil {
		m.otel.RecordConnectionError(context.Background(), "")
	}
}

// RecordKeepAliveSent records that a PooledSession emitted a KeepAlive
// control frame.
func (m *Metrics) RecordKeepAliveSent() {
	m.totalKeepAlivesSent.Inc()
	if m.otel != nil {
		m.otel.RecordKeepAliveSent(context.Background())
	}
}

// RecordTimeoutClosure records that a PooledSession was closed by the
// idle-timeout check.
func (m *Metrics) RecordTimeoutClosure() {
	m.totalTimeoutClosures.Inc()
	if m.otel != nil {
		m.otel.RecordTimeoutClosure(context.Background())
	}
}

// RecordTimeToFirstTranscript records the latency between a session's
// activation and its first transcript event. PooledSession records it in
// milliseconds, the unit the OTel mirror declares.
func (m *Metrics) RecordTimeToFirstTranscript(v float64) {
	m.timeToFirstTranscript.Record(v)
	if m.otel != nil {
		m.otel.RecordTimeToFirstTranscript(context.Background(), v)
	}
}

// RecordAcquisitionTime records how long a successful acquire() call took.
func (m *Metrics) RecordAcquisitionTime(v float64) {
	m.acquisitionTime.Record(v)
	if m.otel != nil {
		m.otel.RecordAcquisitionTime(context.Background(), v)
	}
}

// RecordUsageTime records how long a session was held ACTIVE before
// release.
func (m *Metrics) RecordUsageTime(v float64) {
	m.usageTime.Record(v)
	if m.otel != nil {
		m.otel.RecordUsageTime(context.Background(), v)
	}
}

// ActiveConnections returns the current active-gauge reading.
func (m *Metrics) ActiveConnections() int64 { return m.activeConnections.Load() }

// IdleConnections returns the current idle-gauge reading.
func (m *Metrics) IdleConnections() int64 { return m.idleConnections.Load() }

// TotalConnectionsCreated returns the monotonic connections-created count.
func (m *Metrics) TotalConnectionsCreated() int64 { return m.totalConnectionsCreated.Load() }

// TotalConnectionsAcquired returns the monotonic acquisitions count.
func (m *Metrics) TotalConnectionsAcquired() int64 { return m.totalConnectionsAcquired.Load() }

// TotalAcquisitionTimeouts returns the monotonic acquire-timeout count.
func (m *Metrics) TotalAcquisitionTimeouts() int64 { return m.totalAcquisitionTimeouts.Load() }

// TotalConnectionErrors returns the monotonic connection-error count.
func (m *Metrics) TotalConnectionErrors() int64 { return m.totalConnectionErrors.Load() }

// TotalKeepAlivesSent returns the monotonic keep-alive count.
func (m *Metrics) TotalKeepAlivesSent() int64 { return m.totalKeepAlivesSent.Load() }

// TotalTimeoutClosures returns the monotonic idle-timeout-closure count.
func (m *Metrics) TotalTimeoutClosures() int64 { return m.totalTimeoutClosures.Load() }

// TimeToFirstTranscript returns the running activation-to-first-transcript
// latency statistic.
func (m *Metrics) TimeToFirstTranscript() *Stat { return m.timeToFirstTranscript }

// AcquisitionTime returns the running acquire() duration statistic.
func (m *Metrics) AcquisitionTime() *Stat { return m.acquisitionTime }

// UsageTime returns the running ACTIVE-hold-duration statistic.
func (m *Metrics) UsageTime() *Stat { return m.usageTime }

// PoolUtilization returns 100 * active / (active + idle), or 0 when the
// fleet is empty.
func (m *Metrics) PoolUtilization() float64 {
	active := float64(m.activeConnections.Load())
	idle := float64(m.idleConnections.Load())
	if active+idle == 0 {
		return 0
	}
	return 100 * active / (active + idle)
}
