package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock. Timers fire synchronously inside
// Advance, in deadline order. Ticker channels have capacity 1 and drop
// ticks the consumer has not read, matching time.Ticker.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

// NewFake returns a Fake clock set to start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t without firing anything in between
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves time forward by d, firing due timers and tickers
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		sort.Slice(f.timers, func(i, j int) bool {
			return f.timers[i].deadline.Before(f.timers[j].deadline)
		})
		var due *fakeTimer
		if len(f.timers) > 0 && !f.timers[0].deadline.After(target) {
			due = f.timers[0]
			f.timers = f.timers[1:]
			f.now = due.deadline
		}
		f.mu.Unlock()

		if due == nil {
			break
		}
		due.fn()
	}

	f.mu.Lock()
	f.now = target
	tickers := append([]*fakeTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, t := range tickers {
		t.advanceTo(target)
	}
}

// PendingTimers returns the number of timers that have not fired
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// AfterFunc schedules fn to run during the Advance that crosses now+d
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// NewTicker returns a ticker that fires during Advance
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{clock: f, interval: d, next: f.now.Add(d), c: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	fn       func()
}

func (t *fakeTimer) Stop() bool {
	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, pending := range f.timers {
		if pending == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	mu       sync.Mutex
	next     time.Time
	stopped  bool
	c        chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.c
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()

	f := t.clock
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, pending := range f.tickers {
		if pending == t {
			f.tickers = append(f.tickers[:i], f.tickers[i+1:]...)
			return
		}
	}
}

func (t *fakeTicker) advanceTo(target time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.stopped && !t.next.After(target) {
		select {
		case t.c <- t.next:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
