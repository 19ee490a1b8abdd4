// Package clock abstracts time so the presence engine, the accumulator and
// the ACW timers can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts time operations. Production code uses Real(); tests use
// NewFake() and move time forward with Advance.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks on C() every d.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable pending call
type Timer interface {
	// Stop prevents the call. Returns false if it already fired or was stopped.
	Stop() bool
}

// Ticker delivers periodic ticks
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
