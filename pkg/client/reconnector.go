package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/rs/zerolog"
)

// State is the connection state shown to the user
type State string

const (
	StateIdle         State = "idle"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// StateChange is reported on every state transition. Attempt and Delay are
// set when a reconnect attempt is scheduled.
type StateChange struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
}

// ErrClosed is returned after a user-initiated Close
var ErrClosed = errors.New("client: closed")

// ConnectFunc establishes one connection
type ConnectFunc func(ctx context.Context) error

// Reconnector is the connection state machine. Lost schedules reconnects
// with backoff; Close stops everything without reconnecting; Retry leaves
// the failed state.
type Reconnector struct {
	connect  ConnectFunc
	backoff  Backoff
	clock    clock.Clock
	onChange func(StateChange)
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	state   State
	attempt int
	timer   clock.Timer
	lastErr error
}

// NewReconnector creates a reconnector in the idle state. onChange may be nil
// and is called without internal locks held.
func NewReconnector(connect ConnectFunc, backoff Backoff, clk clock.Clock, onChange func(StateChange), logger zerolog.Logger) *Reconnector {
	if clk == nil {
		clk = clock.Real()
	}
	if onChange == nil {
		onChange = func(StateChange) {}
	}
	return &Reconnector{
		connect:  connect,
		backoff:  backoff,
		clock:    clk,
		onChange: onChange,
		logger:   logger.With().Str("component", "reconnector").Logger(),
		ctx:      context.Background(),
		state:    StateIdle,
	}
}

// Start makes the first connection attempt. A failure enters reconnecting
// and is also returned to the caller.
func (r *Reconnector) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.ctx = ctx
	r.mu.Unlock()

	err := r.connect(ctx)
	if err != nil {
		r.Lost(err)
		return err
	}

	r.mu.Lock()
	if r.state != StateIdle {
		// closed, or lost again before the first connect returned
		r.mu.Unlock()
		return nil
	}
	r.state = StateConnected
	r.attempt = 0
	r.mu.Unlock()
	r.onChange(StateChange{State: StateConnected})
	return nil
}

// Lost reports an unexpected transport loss and schedules a reconnect
func (r *Reconnector) Lost(err error) {
	r.mu.Lock()
	if r.state == StateClosed || r.state == StateReconnecting || r.state == StateFailed {
		r.mu.Unlock()
		return
	}
	r.attempt = 0
	r.lastErr = err
	change := r.scheduleLocked()
	r.mu.Unlock()

	r.logger.Warn().Err(err).Dur("retry_in", change.Delay).Msg("connection lost, reconnecting")
	r.onChange(change)
}

// Close is a clean user-initiated disconnect. No reconnect follows.
func (r *Reconnector) Close() {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.state = StateClosed
	r.mu.Unlock()

	r.onChange(StateChange{State: StateClosed})
}

// Retry leaves the failed state and starts a fresh round of attempts
func (r *Reconnector) Retry() bool {
	r.mu.Lock()
	if r.state != StateFailed {
		r.mu.Unlock()
		return false
	}
	r.attempt = 0
	change := r.scheduleLocked()
	r.mu.Unlock()

	r.onChange(change)
	return true
}

// State returns the current state
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempt returns the zero-based index of the next reconnect attempt
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *Reconnector) scheduleLocked() StateChange {
	delay := r.backoff.Delay(r.attempt)
	r.state = StateReconnecting
	r.timer = r.clock.AfterFunc(delay, r.tryReconnect)
	return StateChange{State: StateReconnecting, Attempt: r.attempt, Delay: delay, Err: r.lastErr}
}

func (r *Reconnector) tryReconnect() {
	r.mu.Lock()
	if r.state != StateReconnecting {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	ctx := r.ctx
	attempt := r.attempt
	r.mu.Unlock()

	if ctx.Err() != nil {
		r.Close()
		return
	}

	err := r.connect(ctx)

	r.mu.Lock()
	if r.state != StateReconnecting {
		// closed while dialing
		r.mu.Unlock()
		return
	}
	var change StateChange
	if err == nil {
		r.attempt = 0
		r.lastErr = nil
		r.state = StateConnected
		change = StateChange{State: StateConnected}
	} else {
		r.lastErr = err
		r.attempt = attempt + 1
		if r.attempt >= r.backoff.attempts() {
			r.state = StateFailed
			change = StateChange{State: StateFailed, Attempt: r.attempt, Err: err}
		} else {
			change = r.scheduleLocked()
		}
	}
	r.mu.Unlock()

	switch change.State {
	case StateConnected:
		r.logger.Info().Int("attempts", attempt+1).Msg("reconnected")
	case StateFailed:
		r.logger.Error().Err(err).Int("attempts", change.Attempt).Msg("giving up reconnecting")
	default:
		r.logger.Debug().Err(err).Dur("retry_in", change.Delay).Msg("reconnect failed, retrying")
	}
	r.onChange(change)
}
