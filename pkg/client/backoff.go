// Package client is a Go client for the presence realtime channel. It keeps a
// connection alive with capped exponential backoff and reconciles local
// display state to the server seed after every reconnect.
package client

import "time"

// Backoff computes reconnect delays as min(Base * 2^attempt, Max)
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s doubling up to 30s, giving up after 10 attempts
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}

// Delay returns the wait before the given zero-based attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoff.Max
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (b Backoff) attempts() int {
	if b.MaxAttempts <= 0 {
		return DefaultBackoff.MaxAttempts
	}
	return b.MaxAttempts
}
