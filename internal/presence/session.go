package presence

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// Session end reasons
const (
	EndReasonLogout            = "logout"
	EndReasonSupervisor        = "supervisor"
	EndReasonDisconnectTimeout = "disconnect_timeout"
)

// SessionStart is a startSession request
type SessionStart struct {
	AgentID    string
	CampaignID string
	LoginType  string
	OriginIP   string
	UserAgent  string
}

// StartSession opens a work session and moves the agent from offline to
// available. An already active session is returned unchanged.
func (e *Engine) StartSession(ctx context.Context, req SessionStart) (*types.WorkSessionRecord, error) {
	const op = "startSession"
	agent, err := e.requireAgent(ctx, op, req.AgentID)
	if apperr.Is(err, apperr.KindAgentNotFound) && e.opts.AutoRegister {
		if err = e.RegisterAgents(ctx, []types.Agent{{AgentID: req.AgentID, CampaignID: req.CampaignID}}); err == nil {
			agent, err = e.requireAgent(ctx, op, req.AgentID)
		}
	}
	if err != nil {
		return nil, err
	}
	campaignID := req.CampaignID
	if campaignID == "" {
		campaignID = agent.CampaignID
	}
	loginType := req.LoginType
	if loginType == "" {
		loginType = "web"
	}

	var session *types.WorkSessionRecord
	err = e.withAgent(ctx, op, req.AgentID, func() error {
		now := e.now()
		var res committed
		created := false
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			existing, err := tx.ActiveSession(ctx, req.AgentID)
			if err != nil {
				return err
			}
			if existing != nil {
				session = existing
				return nil
			}

			session = &types.WorkSessionRecord{
				AgentID:    req.AgentID,
				LoginTime:  now,
				IsActive:   true,
				CampaignID: campaignID,
				LoginType:  loginType,
			}
			if err := tx.CreateSession(ctx, session); err != nil {
				return err
			}
			created = true

			res, err = transition(ctx, tx, StatusChange{
				AgentID:   req.AgentID,
				Status:    types.StatusAvailable,
				Reason:    "login",
				OriginIP:  req.OriginIP,
				UserAgent: req.UserAgent,
			}, now)
			return err
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		e.table.Register(*agent)
		e.table.SetSession(req.AgentID, session.ID, session.LoginTime, campaignID)
		e.acc.Track(req.AgentID, session.ID, types.StatusAvailable, now)
		e.afterTransition(res, now)
		e.logger.Info().Str("agent_id", req.AgentID).Str("session_id", session.ID).Str("campaign_id", campaignID).Msg("work session started")
		return nil
	})
	if err != nil {
		e.logErr(op, req.AgentID, err)
		return nil, err
	}
	return session, nil
}

// EndSession runs the final flush, moves the agent to offline and closes the
// work session. The closed record carries the flushed totals.
func (e *Engine) EndSession(ctx context.Context, agentID, reason string) (*types.WorkSessionRecord, error) {
	const op = "endSession"
	if _, err := e.requireAgent(ctx, op, agentID); err != nil {
		return nil, err
	}
	reason = reasonOr(reason, EndReasonLogout)

	var closed *types.WorkSessionRecord
	err := e.withAgent(ctx, op, agentID, func() error {
		session, err := e.store.ActiveSession(ctx, agentID)
		if err != nil {
			return err
		}
		if session == nil {
			return apperr.New(apperr.KindInvalidTransition, op, agentID, "agent has no active work session")
		}

		now := e.now()
		if err := e.acc.FlushAgent(ctx, agentID, now); err != nil {
			e.acc.Resume(agentID)
			return apperr.Wrap(apperr.KindStoreUnavailable, op, agentID, err)
		}

		var res committed
		err = e.store.InTx(ctx, func(tx storage.Store) error {
			var err error
			res, err = transition(ctx, tx, StatusChange{AgentID: agentID, Status: types.StatusOffline, Reason: reason}, now)
			if err != nil {
				return err
			}
			session.Close(now, reason)
			return tx.CloseSession(ctx, session)
		})
		if err != nil {
			e.acc.Resume(agentID)
			return err
		}

		e.acc.Untrack(agentID)
		e.table.ClearSession(agentID)
		e.afterTransition(res, now)

		closed, err = e.store.GetSession(ctx, session.ID)
		if err != nil || closed == nil {
			closed = session
		}
		e.archiveSession(closed)
		e.logger.Info().
			Str("agent_id", agentID).
			Str("session_id", session.ID).
			Str("reason", reason).
			Int64("productive_time", closed.ProductiveTimeSeconds).
			Msg("work session ended")
		return nil
	})
	if err != nil {
		e.logErr(op, agentID, err)
		return nil, err
	}
	return closed, nil
}

// archiveSession copies a closed session to the history archive. Failures
// are logged; the durable store remains authoritative.
func (e *Engine) archiveSession(session *types.WorkSessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.archive.Archive(ctx, types.ArchiveFromSession(session)); err != nil {
		e.logger.Warn().Err(err).Str("agent_id", session.AgentID).Str("session_id", session.ID).Msg("failed to archive session")
	}
}

// EndDisconnected ends the session of every agent whose last realtime
// connection dropped more than grace ago. It returns the agents logged out.
func (e *Engine) EndDisconnected(ctx context.Context, grace time.Duration) []string {
	cutoff := e.clock.Now().Add(-grace)
	var ended []string
	for _, agentID := range e.table.DisconnectedSince(cutoff) {
		if _, err := e.EndSession(ctx, agentID, EndReasonDisconnectTimeout); err != nil {
			if !apperr.Is(err, apperr.KindInvalidTransition) {
				e.logger.Warn().Err(err).Str("agent_id", agentID).Msg("failed to end disconnected session")
			}
			e.table.ClearSession(agentID)
			continue
		}
		ended = append(ended, agentID)
	}
	if len(ended) > 0 {
		e.logger.Info().Strs("agents", ended).Dur("grace", grace).Msg("ended sessions after disconnect grace period")
	}
	return ended
}

// SetSessionScores records quality (0-100) and customer satisfaction (0-5)
func (e *Engine) SetSessionScores(ctx context.Context, sessionID string, quality, satisfaction *float64) (*types.WorkSessionRecord, error) {
	const op = "setSessionScores"
	if quality != nil && (*quality < 0 || *quality > 100) {
		return nil, apperr.New(apperr.KindValidation, op, "", "qualityScore must be between 0 and 100")
	}
	if satisfaction != nil && (*satisfaction < 0 || *satisfaction > 5) {
		return nil, apperr.New(apperr.KindValidation, op, "", "customerSatisfaction must be between 0 and 5")
	}
	existing, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.New(apperr.KindValidation, op, "", "unknown session "+sessionID)
	}
	return e.store.SetSessionScores(ctx, sessionID, quality, satisfaction)
}
