// Package port holds the small concurrency primitives the rest of the
// module is built on: a waitable counting semaphore, a bounded mailbox, an
// event group, and a clock seam for tests. None of these are exported
// outside the module — they exist so the scheduler's combined wait
// (mailbox, socket, timers) can be written as a single select, the Go
// equivalent of the poll/epoll-with-eventfd design the platform port layer
// is required to provide.
package port

import "time"

// Clock abstracts wall-clock time so tests can inject a fake one instead of
// sleeping in real time. SystemClock is used everywhere in production code.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of *time.Timer the scheduler needs, abstracted so
// Clock can be faked in tests.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type systemClock struct{}

// SystemClock is the production Clock backed by the real monotonic clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (systemClock) NewTimer(d time.Duration) Timer   { return &systemTimer{t: time.NewTimer(d)} }

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time    { return s.t.C }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
func (s *systemTimer) Stop() bool             { return s.t.Stop() }
