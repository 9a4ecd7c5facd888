package bridge

import (
	"context"
	"sync"
)

// semaphore bounds how many holders share a resource. A limit of 0 means
// unlimited.
type semaphore struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limit    int
	acquired int
}

func newSemaphore(limit int) *semaphore {
	s := &semaphore{limit: max(limit, 0)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until a slot is free or ctx is done.
func (s *semaphore) Acquire(ctx context.Context) error {
	// Wake waiters when ctx ends so they can observe the cancellation.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.full() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.acquired++
	return nil
}

// TryAcquire takes a slot without blocking. It reports whether it did.
func (s *semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full() {
		return false
	}
	s.acquired++
	return true
}

// Release frees a slot.
func (s *semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired > 0 {
		s.acquired--
	}
	s.cond.Signal()
}

// Acquired returns the number of slots held.
func (s *semaphore) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *semaphore) full() bool {
	return s.limit > 0 && s.acquired >= s.limit
}
