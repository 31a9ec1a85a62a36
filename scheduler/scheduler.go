// Package scheduler implements the shared per-Pool repeating-task
// scheduler that pooledsession.PooledSession's keep-alive and idle-check
// timers run on. One Scheduler is single-threaded — task callbacks never
// overlap — so they can safely mutate PooledSession state without their
// own locking.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// TaskHandle cancels a single scheduled repeating task. The zero value is
// not usable; obtain one from Scheduler.ScheduleRepeating.
type TaskHandle struct {
	cancel context.CancelFunc
}

// Cancel stops the task's future firings. Idempotent; safe on a nil
// receiver.
func (h *TaskHandle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Scheduler runs repeating tasks on a single internal goroutine so that no
// two task callbacks execute concurrently with each other.
type Scheduler struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

// New starts a Scheduler's internal dispatch goroutine and returns it
// ready for ScheduleRepeating calls.
func New() *Scheduler {
	s := &Scheduler{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		}
	}
}

// ScheduleRepeating runs fn every interval, serialized against every other
// task on this Scheduler, until the returned handle is cancelled or the
// Scheduler is stopped. Scheduling on an already-stopped Scheduler returns
// a handle that is already cancelled.
func (s *Scheduler) ScheduleRepeating(interval time.Duration, fn func()) *TaskHandle {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return &TaskHandle{cancel: cancel}
	}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case s.tasks <- fn:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &TaskHandle{cancel: cancel}
}

// Stop cancels every scheduled task and shuts down the dispatch goroutine,
// waiting up to grace for any in-flight task callback to finish. Past
// grace, Stop returns regardless — the dispatch goroutine is abandoned
// rather than forcibly killed, since Go offers no such primitive.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		close(s.done)
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(grace):
	}
}
