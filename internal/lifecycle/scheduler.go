package lifecycle

import (
	"context"
	"sync"
)

// Scheduler runs deferred tasks keyed by request id. Scheduling a key that is
// already running cancels the earlier task.
type Scheduler struct {
	mu     sync.Mutex
	base   context.Context
	stop   context.CancelFunc
	tasks  map[int64]*task
	wg     sync.WaitGroup
	closed bool
}

type task struct {
	cancel context.CancelFunc
}

// NewScheduler returns an idle scheduler.
func NewScheduler() *Scheduler {
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{base: base, stop: stop, tasks: make(map[int64]*task)}
}

// Schedule starts fn in its own goroutine. It returns false after Shutdown.
func (s *Scheduler) Schedule(key int64, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if prev, ok := s.tasks[key]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(s.base)
	t := &task{cancel: cancel}
	s.tasks[key] = t
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.tasks[key] == t {
				delete(s.tasks, key)
			}
			s.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return true
}

// Cancel stops the task registered under key.
func (s *Scheduler) Cancel(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.cancel()
	delete(s.tasks, key)
	return true
}

// Pending reports how many tasks are still running.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown cancels every task and waits for them to return or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
