// Package ectime provides the monotonic timeout primitive the frame layer
// blocks on. Nothing in the driver sleeps on a scheduler primitive; every
// blocking operation spins against a Timer created here, which keeps the
// worst case latency of a poll visible to the caller.
package ectime

import (
	"time"
)

// Clock is the time source a Timer compares against. The package level
// functions use the system monotonic clock; tests substitute their own.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the Go runtime's monotonic clock.
var SystemClock Clock = systemClock{}

// Timer holds an absolute expiry timestamp. It is created fresh per blocking
// operation and never reused.
type Timer struct {
	clock  Clock
	expiry time.Time
}

// StartTimer starts a timer expiring after the given duration on the system
// clock.
func StartTimer(timeout time.Duration) Timer {
	return StartTimerOn(SystemClock, timeout)
}

// StartTimerUs starts a timer expiring after timeout microseconds, the unit
// the wire layer's public API counts in.
func StartTimerUs(timeoutUs int) Timer {
	return StartTimer(time.Duration(timeoutUs) * time.Microsecond)
}

// StartTimerOn starts a timer against an explicit clock.
func StartTimerOn(c Clock, timeout time.Duration) Timer {
	return Timer{clock: c, expiry: c.Now().Add(timeout)}
}

// Expired reports whether the expiry timestamp has passed.
func (t *Timer) Expired() bool {
	return !t.clock.Now().Before(t.expiry)
}

// Remaining returns the time left until expiry, never negative.
func (t *Timer) Remaining() time.Duration {
	d := t.expiry.Sub(t.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}
