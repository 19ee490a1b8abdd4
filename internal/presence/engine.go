// Package presence is the agent state machine. It owns the status, pause and
// work-session lifecycle, keeps at most one active record of each per agent,
// and drives the accumulator and the realtime hub after every commit.
package presence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/accumulator"
	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// Publisher receives per-agent events after they commit. Calls for one
// agent are made in commit order and must not block.
type Publisher interface {
	PublishAgentEvent(agentID, campaignID string, msg types.ServerMessage)
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishAgentEvent(string, string, types.ServerMessage) {}

// Options configures the engine
type Options struct {
	LockTimeout time.Duration
	ACWDuration time.Duration
	// AutoRegister adds unknown agents to the directory on login
	AutoRegister bool
	// DefaultPauseType is used when a status change to on_pause names no pause type
	DefaultPauseType types.PauseType
}

// Engine applies presence operations
type Engine struct {
	store   storage.Store
	archive storage.SessionArchive
	acc     *accumulator.Accumulator
	table   *cache.StatusTable
	pub     Publisher
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
	opts    Options

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	acwMu     sync.Mutex
	acwTimers map[string]clock.Timer
}

// New creates an engine. pub may be nil until SetPublisher is called.
func New(store storage.Store, archive storage.SessionArchive, acc *accumulator.Accumulator, table *cache.StatusTable,
	pub Publisher, clk clock.Clock, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.DefaultPauseType == "" {
		opts.DefaultPauseType = types.PauseBreak
	}
	if archive == nil {
		archive = storage.NewNoopArchive()
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Engine{
		store:     store,
		archive:   archive,
		acc:       acc,
		table:     table,
		pub:       pub,
		clock:     clk,
		metrics:   m,
		logger:    logger.With().Str("component", "presence").Logger(),
		opts:      opts,
		locks:     make(map[string]chan struct{}),
		acwTimers: make(map[string]clock.Timer),
	}
}

// SetPublisher replaces the event sink. Call before serving requests.
func (e *Engine) SetPublisher(pub Publisher) {
	e.pub = pub
}

// now returns whole-second UTC time so stored durations equal end minus start
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

func (e *Engine) agentLock(agentID string) chan struct{} {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[agentID]
	if !ok {
		l = make(chan struct{}, 1)
		e.locks[agentID] = l
	}
	return l
}

// lock acquires the per-agent lock or fails with a conflict after LockTimeout
func (e *Engine) lock(ctx context.Context, op, agentID string) (func(), error) {
	l := e.agentLock(agentID)
	timer := time.NewTimer(e.opts.LockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, apperr.New(apperr.KindConflict, op, agentID, "timed out waiting for agent lock")
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindConflict, op, agentID, ctx.Err())
	}
}

// withAgent runs fn under the agent's lock. A conflict is retried once with
// a fresh read; a second conflict surfaces to the caller.
func (e *Engine) withAgent(ctx context.Context, op, agentID string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		unlock, err := e.lock(ctx, op, agentID)
		if err == nil {
			err = fn()
			unlock()
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return err
		}
		lastErr = err
		if e.metrics != nil {
			e.metrics.RecordConflict()
		}
		e.logger.Debug().Err(err).Str("agent_id", agentID).Str("op", op).Int("attempt", attempt+1).Msg("conflict")
		if ctx.Err() != nil {
			break
		}
	}
	return &apperr.Error{
		Kind:    apperr.KindConflict,
		Op:      op,
		AgentID: agentID,
		Msg:     apperr.ErrConflict.Msg,
		Err:     lastErr,
	}
}

// requireAgent fails with AgentNotFound for agents missing from the directory
func (e *Engine) requireAgent(ctx context.Context, op, agentID string) (*types.Agent, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, apperr.New(apperr.KindValidation, op, "", "agentId is required")
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, apperr.New(apperr.KindAgentNotFound, op, agentID, "no such agent")
	}
	return agent, nil
}

// RegisterAgents upserts directory entries
func (e *Engine) RegisterAgents(ctx context.Context, agents []types.Agent) error {
	for _, a := range agents {
		if strings.TrimSpace(a.AgentID) == "" {
			return apperr.New(apperr.KindValidation, "registerAgents", "", "agentId is required")
		}
	}
	if err := e.store.UpsertAgents(ctx, agents); err != nil {
		return err
	}
	for _, a := range agents {
		e.table.Register(a)
	}
	e.logger.Info().Int("count", len(agents)).Msg("agents registered")
	return nil
}

func (e *Engine) campaignOf(agentID string) string {
	if p, ok := e.table.Get(agentID); ok {
		return p.CampaignID
	}
	return ""
}

func (e *Engine) publish(agentID string, msg types.ServerMessage) {
	e.pub.PublishAgentEvent(agentID, e.campaignOf(agentID), msg)
}

func statusUpdated(rec *types.AgentStatusRecord, campaignID string) types.StatusUpdated {
	return types.StatusUpdated{
		AgentID:        rec.AgentID,
		RecordID:       rec.ID,
		Status:         rec.Status,
		PreviousStatus: rec.PreviousStatus,
		Reason:         rec.Reason,
		Since:          rec.StartTime,
		CampaignID:     campaignID,
	}
}

// logErr logs typed failures at debug and everything else at error
func (e *Engine) logErr(op, agentID string, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindStoreUnavailable && appErr.Kind != apperr.KindInternal {
		e.logger.Debug().Err(err).Str("op", op).Str("agent_id", agentID).Msg("operation rejected")
		return
	}
	e.logger.Error().Err(err).Str("op", op).Str("agent_id", agentID).Msg("operation failed")
}
