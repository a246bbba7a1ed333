package port

import "time"

// OneShot wraps time.Timer with explicit re-arming, matching spec §4.1
// ("timers are one-shot with periodic re-arming performed explicitly by
// the owner"). It exists mainly so the scheduler's retransmit/keepalive/
// deadline timers share one small type instead of raw *time.Timer, whose
// Stop/Reset drain semantics are easy to get wrong.
type OneShot struct {
	t       *time.Timer
	armed   bool
	initial time.Duration
}

// NewOneShot creates a timer armed for d. Use NewOneShotStopped to create
// one that isn't running yet.
func NewOneShot(d time.Duration) *OneShot {
	return &OneShot{t: time.NewTimer(d), armed: true, initial: d}
}

// NewOneShotStopped creates a disarmed timer.
func NewOneShotStopped() *OneShot {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &OneShot{t: t}
}

// C returns the channel that fires when the timer elapses.
func (o *OneShot) C() <-chan time.Time {
	return o.t.C
}

// Rearm stops the timer (draining a pending fire if necessary) and starts
// it again for d.
func (o *OneShot) Rearm(d time.Duration) {
	o.Disarm()
	o.t.Reset(d)
	o.armed = true
}

// Disarm stops the timer, draining the channel if it had already fired.
func (o *OneShot) Disarm() {
	if !o.t.Stop() && o.armed {
		select {
		case <-o.t.C:
		default:
		}
	}
	o.armed = false
}
