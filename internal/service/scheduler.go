// Package service wires the intake pipeline together: scheduling, directory
// walking and the per-item driver.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TaskFunc is one unit of scheduled work. The context is never cancelled
// once the task has started.
type TaskFunc func(ctx context.Context) error

// ErrorHandler receives every error a task returns, including recovered
// panics.
type ErrorHandler func(key string, err error)

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Capacity  int
	Pending   int
	Running   int
	Peak      int
	Completed int64
	Failed    int64
}

type task struct {
	key string
	fn  TaskFunc
}

// Scheduler runs submitted tasks on a fixed number of worker slots. Submit
// never blocks; tasks wait in an unbounded queue until a slot frees up.
type Scheduler struct {
	capacity int
	sem      *semaphore.Weighted
	logger   *slog.Logger
	onError  ErrorHandler

	acquireCtx    context.Context
	cancelAcquire context.CancelFunc

	mu      sync.Mutex
	queue   []task
	pending map[string]bool
	running map[string]bool
	rerun   map[string]TaskFunc
	closed  bool
	changed chan struct{}

	runningCount int
	peak         int
	completed    int64
	failed       int64

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler with the given number of worker slots and
// starts dispatching immediately. onError may be nil.
func NewScheduler(capacity int, logger *slog.Logger, onError ErrorHandler) *Scheduler {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		capacity:      capacity,
		sem:           semaphore.NewWeighted(int64(capacity)),
		logger:        logger,
		onError:       onError,
		acquireCtx:    ctx,
		cancelAcquire: cancel,
		pending:       make(map[string]bool),
		running:       make(map[string]bool),
		rerun:         make(map[string]TaskFunc),
		changed:       make(chan struct{}),
		notify:        make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Capacity returns the number of worker slots.
func (s *Scheduler) Capacity() int {
	return s.capacity
}

// Submit queues fn under key. A key that is already waiting is not queued
// twice; a key that is currently running is re-run once after it finishes.
// It returns false if the task was dropped.
func (s *Scheduler) Submit(key string, fn TaskFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.pending[key] {
		s.logger.Debug("task already queued", "key", key)
		return false
	}
	if s.running[key] {
		s.logger.Debug("task running, scheduling re-run", "key", key)
		s.rerun[key] = fn
		return true
	}
	s.enqueueLocked(task{key: key, fn: fn})
	return true
}

// Caller must hold s.mu.
func (s *Scheduler) enqueueLocked(t task) {
	s.pending[t.key] = true
	s.queue = append(s.queue, t)
	s.broadcastLocked()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Caller must hold s.mu.
func (s *Scheduler) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) dispatch() {
	defer close(s.done)
	for {
		t, ok := s.next()
		if !ok {
			return
		}
		if err := s.sem.Acquire(s.acquireCtx, 1); err != nil {
			// Shutting down: the task never starts and its item stays in Inbound.
			return
		}
		s.start(t)
	}
}

// next blocks until a task is queued or the scheduler is shut down.
func (s *Scheduler) next() (task, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return task{}, false
		}
		if len(s.queue) > 0 {
			t := s.queue[0]
			s.queue[0] = task{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return t, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.stop:
			return task{}, false
		}
	}
}

func (s *Scheduler) start(t task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.sem.Release(1)
		return
	}
	delete(s.pending, t.key)
	s.running[t.key] = true
	s.runningCount++
	if s.runningCount > s.peak {
		s.peak = s.runningCount
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		err := s.safeRun(t)
		if err != nil && s.onError != nil {
			s.onError(t.key, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.running, t.key)
		s.runningCount--
		if err != nil {
			s.failed++
		} else {
			s.completed++
		}
		if fn, ok := s.rerun[t.key]; ok {
			delete(s.rerun, t.key)
			if !s.closed {
				s.enqueueLocked(task{key: t.key, fn: fn})
			}
		}
		s.broadcastLocked()
	}()
}

func (s *Scheduler) safeRun(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "key", t.key, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
		}
	}()
	return t.fn(context.Background())
}

// Drain blocks until no task is queued or running, or ctx is done.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := (s.closed || len(s.pending) == 0) && s.runningCount == 0
		changed := s.changed
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops dispatching and waits for running tasks to finish. Queued
// tasks are discarded; their items remain in Inbound for the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
		s.cancelAcquire()
		s.broadcastLocked()
	}
	left := len(s.pending)
	s.mu.Unlock()

	<-s.done
	if left > 0 {
		s.logger.Info("scheduler stopped with queued items left in inbound", "queued", left)
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Capacity:  s.capacity,
		Pending:   len(s.pending),
		Running:   s.runningCount,
		Peak:      s.peak,
		Completed: s.completed,
		Failed:    s.failed,
	}
}
