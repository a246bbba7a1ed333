package port

import (
	"context"
	"time"
)

// Mutex is a lock that can only be acquired with a bounded wait, per spec
// §4.1 ("mutex operations may not suspend the calling thread indefinitely
// without a timeout argument"). It is a thin wrapper over a 1-capacity
// Semaphore rather than sync.Mutex, which has no timed-lock primitive.
type Mutex struct {
	sem *Semaphore
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: NewSemaphore(1)}
}

// Lock blocks up to timeout to acquire the lock, reporting whether it
// succeeded.
func (m *Mutex) Lock(timeout time.Duration) bool {
	return m.sem.Acquire(context.Background(), timeout)
}

// Unlock releases the lock. Unlocking an already-unlocked Mutex is a
// programmer error and is a no-op, same as Semaphore.Release on a full
// semaphore.
func (m *Mutex) Unlock() {
	m.sem.Release()
}
