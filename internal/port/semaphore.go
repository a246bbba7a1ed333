package port

import (
	"context"
	"time"
)

// Semaphore is a waitable counting semaphore. It is deliberately backed by
// a buffered channel: a channel's receive end is select-able, which is the
// hosted-target equivalent of the FD-exposable semaphore required so the
// scheduler can combine it with socket readiness in one wait (spec §4.1,
// §9 "Scheduler event loop").
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a semaphore with an initial count. count must be >= 0.
func NewSemaphore(count int) *Semaphore {
	s := &Semaphore{tokens: make(chan struct{}, count)}
	for i := 0; i < count; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Readiness exposes the underlying channel so callers can fold this
// semaphore into a larger select alongside socket reads and timers.
func (s *Semaphore) Readiness() <-chan struct{} {
	return s.tokens
}

// TryAcquire acquires a token without blocking, reporting whether it
// succeeded.
func (s *Semaphore) TryAcquire() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// Acquire blocks until a token is available, the timeout elapses, or ctx is
// cancelled. Mutex/semaphore operations in this module never block without
// an explicit bound (spec §4.1): pass context.Background() with a timeout
// via WithTimeout rather than calling this with no deadline at all.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-s.tokens:
		return true
	case <-deadline:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release returns a token to the pool. Release on an already-full
// semaphore is a programmer error in this module and is dropped silently,
// matching the "at most N outstanding" invariant it protects.
func (s *Semaphore) Release() {
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}
