package presence

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// Recover loads directory entries and active records from the durable store
// so ticking resumes after a restart. Recovered agents count as disconnected
// from now until they reconnect.
func (e *Engine) Recover(ctx context.Context) error {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		e.table.Register(a)
	}

	statuses, err := e.store.ListActiveStatuses(ctx)
	if err != nil {
		return err
	}
	pauses, err := e.store.ListActivePauses(ctx)
	if err != nil {
		return err
	}
	sessions, err := e.store.ListActiveSessions(ctx)
	if err != nil {
		return err
	}

	pauseByAgent := make(map[string]types.PauseType, len(pauses))
	for _, p := range pauses {
		pauseByAgent[p.AgentID] = p.PauseType
	}

	statusByAgent := make(map[string]types.AgentStatusRecord, len(statuses))
	for _, s := range statuses {
		statusByAgent[s.AgentID] = s
		var pt *types.PauseType
		if t, ok := pauseByAgent[s.AgentID]; ok && s.Status == types.StatusOnPause {
			pt = &t
		}
		e.table.SetStatus(s.AgentID, s.Status, s.StartTime, pt)
	}

	now := e.now()
	for _, session := range sessions {
		status := types.StatusAvailable
		if s, ok := statusByAgent[session.AgentID]; ok {
			status = s.Status
			if status == types.StatusAfterCallWork {
				remaining := e.opts.ACWDuration - now.Sub(s.StartTime)
				if remaining < time.Second {
					remaining = time.Second
				}
				e.armACW(session.AgentID, s.ID, remaining)
			}
		}
		e.table.SetSession(session.AgentID, session.ID, session.LoginTime, session.CampaignID)
		e.table.SetConnected(session.AgentID, false, now)
		e.acc.TrackSession(session.AgentID, session.ID, status, session.LoginTime, now)
	}

	e.logger.Info().
		Int("agents", len(agents)).
		Int("sessions", len(sessions)).
		Int("pauses", len(pauses)).
		Msg("presence state recovered")
	return nil
}
