// Package pooledsession implements C2: PooledSession, a pool-friendly
// lifecycle wrapped around a session.Session — state machine, keep-alive
// timer, and idle-timeout timer, all driven off a shared scheduler.Scheduler
// so pool.Pool can swap timing strategy without touching framing code.
package pooledsession

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"github.com/lookatitude/dgstream"
	"github.com/lookatitude/dgstream/internal/logging"
	"github.com/lookatitude/dgstream/metrics"
	"github.com/lookatitude/dgstream/scheduler"
	"github.com/lookatitude/dgstream/session"
)

// State is one of the three points a PooledSession can occupy. CLOSED is
// terminal: once reached, no subsequent operation moves it.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PooledSession wraps a session.Session with the IDLE/ACTIVE/CLOSED state
// machine, a periodic KeepAlive timer, and an idle-timeout timer.
type PooledSession struct {
	session *session.Session
	metrics *metrics.Metrics
	sched   *scheduler.Scheduler
	logger  *logging.Logger

	keepAliveInterval time.Duration
	idleTimeout       time.Duration

	state        atomic.Int32
	lastActivity atomic.Int64 // UnixNano

	activatedAt             atomic.Int64 // UnixNano, 0 until first Activate
	firstTranscriptRecorded atomic.Bool

	keepAliveHandle *scheduler.TaskHandle
	idleCheckHandle *scheduler.TaskHandle
}

// Option configures optional PooledSession construction parameters.
type Option func(*PooledSession)

// WithLogger overrides the default stdout info-level logger.
func WithLogger(logger *logging.Logger) Option {
	return func(ps *PooledSession) { ps.logger = logger }
}

// New wraps sess in a PooledSession, installs error/close handlers on it,
// and schedules its repeating keep-alive and idle-check tasks on sched.
// Initial state is IDLE with lastActivity set to now.
func New(sess *session.Session, m *metrics.Metrics, sched *scheduler.Scheduler, keepAliveInterval, idleTimeout time.Duration, opts ...Option) *PooledSession {
	ps := &PooledSession{
		session:           sess,
		metrics:           m,
		sched:             sched,
		logger:            logging.New(),
		keepAliveInterval: keepAliveInterval,
		idleTimeout:       idleTimeout,
	}
	for _, opt := range opts {
		opt(ps)
	}
	ps.state.Store(int32(StateIdle))
	ps.lastActivity.Store(time.Now().UnixNano())

	ps.SetCallbacks(session.Callbacks{})

	ps.keepAliveHandle = sched.ScheduleRepeating(keepAliveInterval, ps.sendKeepAlive)
	ps.idleCheckHandle = sched.ScheduleRepeating(idleTimeout, ps.checkIdleTimeout)

	return ps
}

// SetCallbacks lets an advanced caller layer onOpen/onRawText/onTranscript
// handlers on the underlying Session without disturbing the onError/onClose
// wiring PooledSession installed at construction time. An onError or
// onTranscript supplied by cb still runs, after the pool's own handling; an
// onClose supplied by cb is discarded and never called.
func (ps *PooledSession) SetCallbacks(cb session.Callbacks) {
	userOnError := cb.OnError
	userOnTranscript := cb.OnTranscript

	cb.OnError = func(err error) {
		ps.handleSessionError(err)
		if userOnError != nil {
			userOnError(err)
		}
	}
	cb.OnClose = func(code session.CloseCode) {
		ps.Close()
	}
	cb.OnTranscript = func(msg *session.TranscriptMessage) {
		ps.recordFirstTranscript()
		if userOnTranscript != nil {
			userOnTranscript(msg)
		}
	}

	ps.session.SetCallbacks(cb)
}

// Session returns the underlying session.Session for advanced callers that
// need direct callback wiring or raw send access.
func (ps *PooledSession) Session() *session.Session {
	return ps.session
}

// State returns the current lifecycle state.
func (ps *PooledSession) State() State {
	return State(ps.state.Load())
}

// Activate attempts the IDLE->ACTIVE transition. On success it updates
// lastActivity, records an acquisition in Metrics, and — if the underlying
// Session is not yet connected — initiates connect without blocking.
func (ps *PooledSession) Activate(ctx context.Context) error {
	if !ps.state.CAS(int32(StateIdle), int32(StateActive)) {
		return dgstream.NewError("pooledsession.activate", dgstream.ErrIllegalState, "session is not idle", nil)
	}
	ps.touch()
	ps.activatedAt.Store(time.Now().UnixNano())
	ps.firstTranscriptRecorded.Store(false)
	ps.metrics.RecordAcquired()

	if !ps.session.IsConnected() {
		go func() {
			if err := ps.session.Connect(ctx); err != nil {
				ps.handleSessionError(err)
			}
		}()
	}
	return nil
}

// Release attempts the ACTIVE->IDLE transition, updating lastActivity and
// recording a release plus the ACTIVE-hold usage-time statistic in Metrics
// on success.
func (ps *PooledSession) Release() error {
	if !ps.state.CAS(int32(StateActive), int32(StateIdle)) {
		return dgstream.NewError("pooledsession.release", dgstream.ErrIllegalState, "session is not active", nil)
	}
	ps.touch()
	ps.metrics.RecordReleased()

	activatedAt := ps.activatedAt.Load()
	if activatedAt != 0 {
		elapsed := time.Since(time.Unix(0, activatedAt))
		ps.metrics.RecordUsageTime(float64(elapsed.Milliseconds()))
	}
	return nil
}

// SendAudio delegates to the underlying Session, requiring state=ACTIVE and
// an open connection.
func (ps *PooledSession) SendAudio(ctx context.Context, data []byte) error {
	if State(ps.state.Load()) != StateActive {
		return dgstream.NewError("pooledsession.sendAudio", dgstream.ErrIllegalState, "session is not active", nil)
	}
	if err := ps.session.SendAudio(ctx, data); err != nil {
		return err
	}
	ps.touch()
	return nil
}

// Finalize asks the server to flush the current utterance immediately by
// sending a Finalize control frame. Additive relative to the four named
// control-frame types; requires state=ACTIVE.
func (ps *PooledSession) Finalize(ctx context.Context) error {
	if State(ps.state.Load()) != StateActive {
		return dgstream.NewError("pooledsession.finalize", dgstream.ErrIllegalState, "session is not active", nil)
	}
	return ps.session.SendControl(ctx, session.ControlFrame{Type: session.ControlFinalize})
}

// Close atomically swaps state to CLOSED. Idempotent: only the swap that
// actually transitions out of a non-CLOSED state cancels the timers,
// disconnects the Session, and records a close in Metrics.
func (ps *PooledSession) Close() {
	if !ps.swapClosed() {
		return
	}
	ps.keepAliveHandle.Cancel()
	ps.idleCheckHandle.Cancel()
	ps.session.Disconnect()
	ps.metrics.RecordClosed()
}

func (ps *PooledSession) swapClosed() bool {
	for {
		cur := ps.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if ps.state.CAS(cur, int32(StateClosed)) {
			return true
		}
	}
}

func (ps *PooledSession) touch() {
	ps.lastActivity.Store(time.Now().UnixNano())
}

func (ps *PooledSession) handleSessionError(err error) {
	ps.metrics.RecordConnectionError()
	ps.Close()
}

func (ps *PooledSession) recordFirstTranscript() {
	if !ps.firstTranscriptRecorded.CAS(false, true) {
		return
	}
	activatedAt := ps.activatedAt.Load()
	if activatedAt == 0 {
		return
	}
	elapsed := time.Since(time.Unix(0, activatedAt))
	ps.metrics.RecordTimeToFirstTranscript(float64(elapsed.Milliseconds()))
}

func (ps *PooledSession) sendKeepAlive() {
	if State(ps.state.Load()) == StateClosed {
		return
	}
	if err := ps.session.SendControl(context.Background(), session.ControlFrame{Type: session.ControlKeepAlive}); err != nil {
		ps.logger.Warn(context.Background(), "pooledsession: keep-alive send failed, closing", "session_id", ps.session.ID(), "error", err)
		ps.metrics.RecordConnectionError()
		ps.Close()
		return
	}
	ps.metrics.RecordKeepAliveSent()
}

func (ps *PooledSession) checkIdleTimeout() {
	if State(ps.state.Load()) != StateIdle {
		return
	}
	last := time.Unix(0, ps.lastActivity.Load())
	if time.Since(last) >= ps.idleTimeout {
		ps.logger.Warn(context.Background(), "pooledsession: idle timeout exceeded, closing", "session_id", ps.session.ID(), "idle_for", time.Since(last))
		ps.metrics.RecordTimeoutClosure()
		ps.Close()
	}
}
