// Package pool implements C4: Pool, a bounded, fair, metered
// acquire/release interface over a fleet of pooledsession.PooledSessions.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"github.com/lookatitude/dgstream"
	"github.com/lookatitude/dgstream/internal/logging"
	"github.com/lookatitude/dgstream/internal/syncutil"
	"github.com/lookatitude/dgstream/metrics"
	"github.com/lookatitude/dgstream/pooledsession"
	"github.com/lookatitude/dgstream/scheduler"
	"github.com/lookatitude/dgstream/session"
)

// acquirePollInterval bounds how long Acquire sleeps between polls of the
// idle queue; the sole intentional blocking point in the library.
const acquirePollInterval = 100 * time.Millisecond

// schedulerShutdownGrace is how long Close waits for the shared scheduler
// to finish an in-flight task before abandoning it.
const schedulerShutdownGrace = 5 * time.Second

// warmupConcurrency bounds how many sessions New dials at once while
// building the initial fleet.
const warmupConcurrency = 8

// Pool owns a bounded set of PooledSessions: services Acquire/Release
// under a deadline, creates fresh sessions up to config.MaxSize, and
// orchestrates orderly shutdown.
type Pool struct {
	url        string
	credential string
	config     *dgstream.PoolConfig
	options    *dgstream.AudioStreamOptions

	metrics *metrics.Metrics
	sched   *scheduler.Scheduler
	logger  *logging.Logger

	mu        sync.Mutex
	idleQueue deque.Deque[*pooledsession.PooledSession]

	activeSet *xsync.MapOf[*pooledsession.PooledSession, struct{}]

	shutdown atomic.Bool

	pendingOTelMirror *metrics.OTelMirror
}

// Option configures optional Pool construction parameters.
type Option func(*Pool)

// WithLogger overrides the default stdout info-level logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithOTelMirror binds mirror to the Pool's Metrics, so every counter and
// histogram Metrics records is also mirrored into mirror's OTel
// instruments. A bind failure is logged at Error and the mirror is left
// unattached; construction otherwise proceeds normally.
func WithOTelMirror(mirror *metrics.OTelMirror) Option {
	return func(p *Pool) { p.pendingOTelMirror = mirror }
}

// New validates its arguments, then eagerly (and best-effort) creates
// config.InitialSize sessions before returning. A session-creation
// failure during this eager warm-up is recorded as a Metrics error but
// does not abort construction.
func New(rawURL, credential string, config *dgstream.PoolConfig, options *dgstream.AudioStreamOptions, opts ...Option) (*Pool, error) {
	if rawURL == "" {
		return nil, dgstream.NewError("pool.new", dgstream.ErrInvalidArgument, "url must not be empty", nil)
	}
	if credential == "" {
		return nil, dgstream.NewError("pool.new", dgstream.ErrInvalidArgument, "credential must not be empty", nil)
	}
	if config == nil {
		return nil, dgstream.NewError("pool.new", dgstream.ErrInvalidArgument, "config must not be nil", nil)
	}
	if options == nil {
		return nil, dgstream.NewError("pool.new", dgstream.ErrInvalidArgument, "options must not be nil", nil)
	}

	p := &Pool{
		url:        rawURL,
		credential: credential,
		config:     config,
		options:    options,
		metrics:    metrics.New(),
		sched:      scheduler.New(),
		logger:     logging.New(),
		activeSet:  xsync.NewMapOf[*pooledsession.PooledSession, struct{}](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pendingOTelMirror != nil {
		if err := p.metrics.AttachOTel(p.pendingOTelMirror); err != nil {
			p.logger.Error(context.Background(), "pool: otel mirror bind failed", "error", err)
		}
	}

	ctx := context.Background()
	warm := syncutil.NewWorkerPool(warmupConcurrency)
	for i := 0; i < config.InitialSize(); i++ {
		warm.Submit(func() {
			ps, err := p.createSession(ctx)
			if err != nil {
				p.logger.Error(ctx, "pool: eager session warm-up failed", "error", err)
				return
			}
			p.mu.Lock()
			p.idleQueue.PushBack(ps)
			p.mu.Unlock()
		})
	}
	warm.Wait()
	warm.Close()

	return p, nil
}

// createSession builds and connects a fresh session, retrying the dial up
// to config.MaxRetries times (config.RetryDelay apart) before giving up.
// Every failed attempt is recorded in Metrics; the final error is returned
// as a TransportError.
func (p *Pool) createSession(ctx context.Context) (*pooledsession.PooledSession, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries(); attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.config.RetryDelay())
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, dgstream.NewError("pool.createSession", dgstream.ErrInterrupted, "caller context cancelled during retry backoff", ctx.Err())
			}
		}

		ps, err := p.dialOnce(ctx)
		if err == nil {
			return ps, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// dialOnce builds a Session, applies options, connects (bounded by
// config.AcquireTimeout), and wraps the result in a PooledSession. Any
// failure is recorded in Metrics and returned as a TransportError.
func (p *Pool) dialOnce(ctx context.Context) (*pooledsession.PooledSession, error) {
	sess, err := session.New(p.url, p.credential, session.WithLogger(p.logger))
	if err != nil {
		p.metrics.RecordConnectionError()
		return nil, dgstream.NewError("pool.createSession", dgstream.ErrTransport, "session construction failed", err)
	}
	if p.options != nil {
		if err := sess.SetOptions(p.options); err != nil {
			p.metrics.RecordConnectionError()
			return nil, dgstream.NewError("pool.createSession", dgstream.ErrTransport, "apply options failed", err)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout())
	defer cancel()
	if err := sess.Connect(connectCtx); err != nil {
		p.metrics.RecordConnectionError()
		return nil, dgstream.NewError("pool.createSession", dgstream.ErrTransport, "connect failed", err)
	}

	ps := pooledsession.New(sess, p.metrics, p.sched, p.config.KeepAliveInterval(), p.config.ConnectionTimeout(), pooledsession.WithLogger(p.logger))
	p.metrics.RecordConnectionCreated()
	return ps, nil
}

// Acquire runs the deadline-driven poll loop: pop one idle session (FIFO),
// skip it if CLOSED, synthesize a new one if under MaxSize, or sleep up to
// 100ms and retry. Returns Timeout if config.AcquireTimeout elapses first.
func (p *Pool) Acquire(ctx context.Context) (*pooledsession.PooledSession, error) {
	if p.shutdown.Load() {
		return nil, dgstream.NewError("pool.acquire", dgstream.ErrIllegalState, "pool is shut down", nil)
	}

	start := time.Now()
	deadline := p.config.AcquireTimeout()

	for {
		select {
		case <-ctx.Done():
			return nil, dgstream.NewError("pool.acquire", dgstream.ErrInterrupted, "caller context cancelled", ctx.Err())
		default:
		}

		remaining := deadline - time.Since(start)
		if remaining <= 0 {
			p.metrics.RecordAcquisitionTimeout()
			return nil, dgstream.NewError("pool.acquire", dgstream.ErrTimeout, "acquire deadline exceeded", nil)
		}

		candidate := p.pollIdle()
		if candidate == nil && p.liveCount() < p.config.MaxSize() {
			created, err := p.createSession(ctx)
			if err != nil {
				p.logger.Error(ctx, "pool: on-demand session creation failed", "error", err)
			} else {
				candidate = created
			}
		}

		if candidate == nil {
			sleep := remaining
			if sleep > acquirePollInterval {
				sleep = acquirePollInterval
			}
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, dgstream.NewError("pool.acquire", dgstream.ErrInterrupted, "caller context cancelled", ctx.Err())
			}
			continue
		}

		if err := candidate.Activate(ctx); err != nil {
			p.offerIdle(candidate)
			return nil, err
		}

		p.activeSet.Store(candidate, struct{}{})
		p.metrics.RecordAcquisitionTime(float64(time.Since(start).Milliseconds()))
		return candidate, nil
	}
}

// pollIdle pops from the idle queue, discarding any CLOSED sessions found
// there until a live one surfaces or the queue is empty.
func (p *Pool) pollIdle() *pooledsession.PooledSession {
	for {
		p.mu.Lock()
		if p.idleQueue.Len() == 0 {
			p.mu.Unlock()
			return nil
		}
		ps := p.idleQueue.PopFront()
		p.mu.Unlock()

		if ps.State() == pooledsession.StateClosed {
			continue
		}
		return ps
	}
}

func (p *Pool) offerIdle(ps *pooledsession.PooledSession) {
	if ps.State() == pooledsession.StateClosed {
		return
	}
	p.mu.Lock()
	p.idleQueue.PushBack(ps)
	p.mu.Unlock()
}

func (p *Pool) liveCount() int {
	p.mu.Lock()
	idleLen := p.idleQueue.Len()
	p.mu.Unlock()
	return idleLen + p.activeSet.Size()
}

// Release removes ps from the active set and returns it to the idle
// queue. Raises IllegalState if ps was not in the active set. A failed
// underlying Release (already non-ACTIVE) is logged and the session is
// closed rather than re-queued.
func (p *Pool) Release(ps *pooledsession.PooledSession) error {
	if _, existed := p.activeSet.LoadAndDelete(ps); !existed {
		return dgstream.NewError("pool.release", dgstream.ErrIllegalState, "session is not in the active set", nil)
	}

	if err := ps.Release(); err != nil {
		p.logger.Warn(context.Background(), "pool: release failed, closing session", "error", err)
		ps.Close()
		return nil
	}

	p.offerIdle(ps)
	return nil
}

// Close shuts the pool down: marks shutdown so no new sessions are
// created and Acquire rejects, stops the shared scheduler (5s grace),
// then closes every session in the idle queue and active set. A second
// call raises IllegalState — CLOSED is terminal for Pool just as it is
// for PooledSession.
func (p *Pool) Close() error {
	if !p.shutdown.CAS(false, true) {
		return dgstream.NewError("pool.close", dgstream.ErrIllegalState, "pool is already shut down", nil)
	}

	p.sched.Stop(schedulerShutdownGrace)

	p.mu.Lock()
	for p.idleQueue.Len() > 0 {
		p.idleQueue.PopFront().Close()
	}
	p.mu.Unlock()

	p.activeSet.Range(func(ps *pooledsession.PooledSession, _ struct{}) bool {
		ps.Close()
		p.activeSet.Delete(ps)
		return true
	})

	return nil
}

// IdleCount returns the number of sessions currently idle.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleQueue.Len()
}

// ActiveCount returns the number of sessions currently active.
func (p *Pool) ActiveCount() int {
	return p.activeSet.Size()
}

// TotalConnections returns IdleCount() + ActiveCount().
func (p *Pool) TotalConnections() int {
	return p.IdleCount() + p.ActiveCount()
}

// Metrics returns the read-only metrics handle shared across the fleet.
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}
