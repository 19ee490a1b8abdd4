package presence

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// GetActiveSession returns the agent's active work session, or nil with no
// error when the agent is logged out.
func (e *Engine) GetActiveSession(ctx context.Context, agentID string) (*types.WorkSessionRecord, error) {
	if _, err := e.requireAgent(ctx, "getActiveSession", agentID); err != nil {
		return nil, err
	}
	return e.store.ActiveSession(ctx, agentID)
}

// GetCurrentMetrics returns today's counters from the metrics cache
func (e *Engine) GetCurrentMetrics(ctx context.Context, agentID string) (types.MetricsSnapshot, error) {
	if _, err := e.requireAgent(ctx, "getCurrentMetrics", agentID); err != nil {
		return types.MetricsSnapshot{}, err
	}
	return e.acc.CurrentMetrics(ctx, agentID)
}

// GetActiveState returns the agent's active status, pause and session
func (e *Engine) GetActiveState(ctx context.Context, agentID string) (types.ActiveState, error) {
	var state types.ActiveState
	var err error
	if state.Status, err = e.store.ActiveStatus(ctx, agentID); err != nil {
		return state, err
	}
	if state.Pause, err = e.store.ActivePause(ctx, agentID); err != nil {
		return state, err
	}
	if state.Session, err = e.store.ActiveSession(ctx, agentID); err != nil {
		return state, err
	}
	return state, nil
}

// InitialStatus builds the seed sent on connect and on resync
func (e *Engine) InitialStatus(ctx context.Context, agentID string) (types.InitialStatus, error) {
	state, err := e.GetActiveState(ctx, agentID)
	if err != nil {
		return types.InitialStatus{}, err
	}
	snap, err := e.acc.CurrentMetrics(ctx, agentID)
	if err != nil {
		e.logger.Warn().Err(err).Str("agent_id", agentID).Msg("initial status without metrics")
		snap = types.MetricsSnapshot{AgentID: agentID, Stale: true}
	}
	return types.InitialStatus{
		AgentID:    agentID,
		Status:     state.Status,
		Session:    state.Session,
		Pause:      state.Pause,
		Metrics:    snap,
		ServerTime: e.clock.Now().UTC(),
	}, nil
}

// SupervisorSnapshot returns every logged-in agent with time in status and
// today's metrics
func (e *Engine) SupervisorSnapshot(ctx context.Context) types.SupervisorSnapshot {
	now := e.clock.Now().UTC()
	loggedIn := e.table.GetLoggedIn()
	snap := types.SupervisorSnapshot{
		GeneratedAt: now,
		Agents:      make([]types.SupervisorAgentView, 0, len(loggedIn)),
	}
	for _, p := range loggedIn {
		m, err := e.acc.CurrentMetrics(ctx, p.AgentID)
		if err != nil {
			m = types.MetricsSnapshot{AgentID: p.AgentID, Stale: true}
		}
		var inStatus int64
		if !p.StatusSince.IsZero() {
			inStatus = int64(now.Sub(p.StatusSince) / time.Second)
		}
		snap.Agents = append(snap.Agents, types.SupervisorAgentView{
			AgentPresence:       p,
			TimeInStatusSeconds: inStatus,
			Metrics:             m,
		})
	}
	return snap
}

// StatusReport sums seconds per status since the given time
func (e *Engine) StatusReport(ctx context.Context, agentID string, since time.Time) (map[types.AgentStatus]int64, error) {
	if _, err := e.requireAgent(ctx, "statusReport", agentID); err != nil {
		return nil, err
	}
	return e.store.SumStatusDurations(ctx, agentID, since, e.clock.Now().UTC())
}

// StatusHistory lists status records since the given time
func (e *Engine) StatusHistory(ctx context.Context, agentID string, since time.Time, limit int) ([]types.AgentStatusRecord, error) {
	if _, err := e.requireAgent(ctx, "statusHistory", agentID); err != nil {
		return nil, err
	}
	return e.store.ListStatusHistory(ctx, agentID, since, limit)
}

// SessionHistory lists archived sessions, newest first
func (e *Engine) SessionHistory(ctx context.Context, agentID string, limit int) ([]types.ArchivedSession, error) {
	if _, err := e.requireAgent(ctx, "sessionHistory", agentID); err != nil {
		return nil, err
	}
	return e.archive.History(ctx, agentID, limit)
}

// Table exposes the in-memory status table
func (e *Engine) Table() *cache.StatusTable {
	return e.table
}
