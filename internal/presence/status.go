package presence

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// MetadataPauseType names the pause type when on_pause is requested through ChangeStatus
const MetadataPauseType = "pauseType"

// StatusChange is a changeStatus request
type StatusChange struct {
	AgentID   string
	Status    types.AgentStatus
	Reason    string
	Metadata  types.Metadata
	OriginIP  string
	UserAgent string
}

// committed collects what a transaction changed so side effects run after commit
type committed struct {
	status      *types.AgentStatusRecord
	changed     bool
	closedPause *types.PauseRecord
	newPause    *types.PauseRecord
}

// ChangeStatus moves the agent to a new status. Requesting the current status
// returns the active record unchanged. on_pause opens a pause; offline ends
// the work session.
func (e *Engine) ChangeStatus(ctx context.Context, req StatusChange) (*types.AgentStatusRecord, error) {
	const op = "changeStatus"
	if !req.Status.Valid() {
		return nil, apperr.New(apperr.KindValidation, op, req.AgentID, "unknown status "+string(req.Status))
	}
	if _, err := e.requireAgent(ctx, op, req.AgentID); err != nil {
		return nil, err
	}

	switch req.Status {
	case types.StatusOffline:
		if _, err := e.EndSession(ctx, req.AgentID, reasonOr(req.Reason, "logout")); err != nil {
			return nil, err
		}
		return e.store.ActiveStatus(ctx, req.AgentID)
	case types.StatusOnPause:
		pauseType := e.opts.DefaultPauseType
		if pt := types.PauseType(req.Metadata[MetadataPauseType]); pt != "" {
			pauseType = pt
		}
		res, err := e.startPause(ctx, op, req, pauseType)
		if err != nil {
			return nil, err
		}
		return res.status, nil
	}

	var res committed
	err := e.withAgent(ctx, op, req.AgentID, func() error {
		if err := e.requireSession(ctx, op, req.AgentID); err != nil {
			return err
		}
		now := e.now()
		res = committed{}
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			var err error
			res, err = transition(ctx, tx, req, now)
			return err
		})
		if err != nil {
			return err
		}
		e.afterTransition(res, now)
		return nil
	})
	if err != nil {
		e.logErr(op, req.AgentID, err)
		return nil, err
	}
	return res.status, nil
}

func (e *Engine) requireSession(ctx context.Context, op, agentID string) error {
	session, err := e.store.ActiveSession(ctx, agentID)
	if err != nil {
		return err
	}
	if session == nil {
		return apperr.New(apperr.KindInvalidTransition, op, agentID, "agent has no active work session")
	}
	return nil
}

// transition closes the active status (and the active pause when leaving
// on_pause) and opens the requested one. It is a no-op when the status is
// unchanged. Must run inside a transaction.
func transition(ctx context.Context, tx storage.Store, req StatusChange, now time.Time) (committed, error) {
	current, err := tx.ActiveStatus(ctx, req.AgentID)
	if err != nil {
		return committed{}, err
	}
	if current != nil && current.Status == req.Status {
		return committed{status: current}, nil
	}

	var previous *types.AgentStatus
	var closedPause *types.PauseRecord
	if current != nil {
		current.Close(now)
		if err := tx.CloseStatus(ctx, current); err != nil {
			return committed{}, err
		}
		previous = current.Status.Ptr()

		if current.Status == types.StatusOnPause && req.Status != types.StatusOnPause {
			pause, err := tx.ActivePause(ctx, req.AgentID)
			if err != nil {
				return committed{}, err
			}
			if pause != nil {
				pause.Close(now)
				if err := tx.ClosePause(ctx, pause); err != nil {
					return committed{}, err
				}
				closedPause = pause
			}
		}
	}

	next := &types.AgentStatusRecord{
		AgentID:        req.AgentID,
		Status:         req.Status,
		PreviousStatus: previous,
		Reason:         req.Reason,
		Metadata:       req.Metadata,
		StartTime:      now,
		IsActive:       true,
		OriginIP:       req.OriginIP,
		UserAgent:      req.UserAgent,
	}
	if err := tx.CreateStatus(ctx, next); err != nil {
		return committed{}, err
	}
	return committed{status: next, changed: true, closedPause: closedPause}, nil
}

// afterTransition updates the accumulator, the status table and subscribers.
// Runs under the agent lock so events leave in commit order.
func (e *Engine) afterTransition(res committed, now time.Time) {
	if !res.changed {
		return
	}
	rec := res.status
	agentID := rec.AgentID

	e.acc.SetBucket(agentID, rec.Status, now)

	var pauseType *types.PauseType
	if res.newPause != nil {
		pt := res.newPause.PauseType
		pauseType = &pt
	}
	e.table.SetStatus(agentID, rec.Status, rec.StartTime, pauseType)

	if rec.Status != types.StatusAfterCallWork {
		e.cancelACW(agentID)
	}
	if e.metrics != nil {
		e.metrics.RecordTransition(rec.Status, e.clock.Now().Sub(now))
	}

	campaignID := e.campaignOf(agentID)
	e.pub.PublishAgentEvent(agentID, campaignID, statusUpdated(rec, campaignID))
	if res.closedPause != nil {
		e.pub.PublishAgentEvent(agentID, campaignID, types.PauseEnded{AgentID: agentID, Pause: *res.closedPause, CampaignID: campaignID})
	}
	if res.newPause != nil {
		e.pub.PublishAgentEvent(agentID, campaignID, types.PauseStarted{AgentID: agentID, Pause: *res.newPause, CampaignID: campaignID})
	}

	from := ""
	if rec.PreviousStatus != nil {
		from = string(*rec.PreviousStatus)
	}
	e.logger.Info().
		Str("agent_id", agentID).
		Str("from", from).
		Str("to", string(rec.Status)).
		Str("reason", rec.Reason).
		Msg("status changed")
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
