package presence

import (
	"context"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// StartPause moves the agent to on_pause and opens a pause record. Starting
// a pause while one is active returns the active pause.
func (e *Engine) StartPause(ctx context.Context, agentID string, pauseType types.PauseType, reason string) (*types.PauseRecord, error) {
	const op = "startPause"
	if _, err := e.requireAgent(ctx, op, agentID); err != nil {
		return nil, err
	}
	res, err := e.startPause(ctx, op, StatusChange{AgentID: agentID, Status: types.StatusOnPause, Reason: reason}, pauseType)
	if err != nil {
		return nil, err
	}
	return res.newPause, nil
}

// startPause returns the active pause in newPause either way; res.changed
// reports whether anything was written.
func (e *Engine) startPause(ctx context.Context, op string, req StatusChange, pauseType types.PauseType) (committed, error) {
	if !pauseType.Valid() {
		return committed{}, apperr.New(apperr.KindValidation, op, req.AgentID, "unknown pause type "+string(pauseType))
	}
	req.Status = types.StatusOnPause
	meta := types.Metadata{MetadataPauseType: string(pauseType)}
	for k, v := range req.Metadata {
		if k != MetadataPauseType {
			meta[k] = v
		}
	}
	req.Metadata = meta

	var res committed
	err := e.withAgent(ctx, op, req.AgentID, func() error {
		if err := e.requireSession(ctx, op, req.AgentID); err != nil {
			return err
		}
		now := e.now()
		res = committed{}
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			current, err := tx.ActiveStatus(ctx, req.AgentID)
			if err != nil {
				return err
			}
			if current != nil && current.Status == types.StatusInCall {
				return apperr.New(apperr.KindInvalidTransition, op, req.AgentID, "cannot pause during a call")
			}

			active, err := tx.ActivePause(ctx, req.AgentID)
			if err != nil {
				return err
			}
			if active != nil {
				res = committed{status: current, newPause: active}
				return nil
			}

			res, err = transition(ctx, tx, req, now)
			if err != nil {
				return err
			}
			pause := &types.PauseRecord{
				AgentID:   req.AgentID,
				PauseType: pauseType,
				Reason:    req.Reason,
				StartTime: now,
				IsActive:  true,
			}
			if err := tx.CreatePause(ctx, pause); err != nil {
				return err
			}
			res.newPause = pause
			res.changed = true
			return nil
		})
		if err != nil {
			return err
		}
		e.afterTransition(res, now)
		return nil
	})
	if err != nil {
		e.logErr(op, req.AgentID, err)
		return committed{}, err
	}
	return res, nil
}

// EndPause closes the active pause and moves the agent to returnTo
// (available when empty). It fails with NoActivePause when none is active.
func (e *Engine) EndPause(ctx context.Context, agentID string, returnTo types.AgentStatus) (*types.PauseRecord, error) {
	const op = "endPause"
	if returnTo == "" {
		returnTo = types.StatusAvailable
	}
	if !returnTo.Valid() {
		return nil, apperr.New(apperr.KindValidation, op, agentID, "unknown status "+string(returnTo))
	}
	switch returnTo {
	case types.StatusOnPause, types.StatusOffline, types.StatusInCall:
		return nil, apperr.New(apperr.KindInvalidTransition, op, agentID, "cannot end a pause into "+string(returnTo))
	}
	if _, err := e.requireAgent(ctx, op, agentID); err != nil {
		return nil, err
	}

	var closed *types.PauseRecord
	err := e.withAgent(ctx, op, agentID, func() error {
		now := e.now()
		closed = nil
		var res committed
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			pause, err := tx.ActivePause(ctx, agentID)
			if err != nil {
				return err
			}
			if pause == nil {
				return apperr.New(apperr.KindNoActivePause, op, agentID, "no active pause")
			}

			res, err = transition(ctx, tx, StatusChange{AgentID: agentID, Status: returnTo, Reason: "pause ended"}, now)
			if err != nil {
				return err
			}
			if res.closedPause == nil {
				// status had drifted off on_pause; close the pause on its own
				pause.Close(now)
				if err := tx.ClosePause(ctx, pause); err != nil {
					return err
				}
				res.closedPause = pause
				res.changed = true
			}
			closed = res.closedPause
			return nil
		})
		if err != nil {
			return err
		}
		e.afterTransition(res, now)
		return nil
	})
	if err != nil {
		e.logErr(op, agentID, err)
		return nil, err
	}
	return closed, nil
}

// ApprovePause records a supervisor's approval on the agent's active pause
func (e *Engine) ApprovePause(ctx context.Context, agentID, supervisorID, notes string) (*types.PauseRecord, error) {
	const op = "approvePause"
	if _, err := e.requireAgent(ctx, op, agentID); err != nil {
		return nil, err
	}

	var approved *types.PauseRecord
	err := e.withAgent(ctx, op, agentID, func() error {
		pause, err := e.store.ActivePause(ctx, agentID)
		if err != nil {
			return err
		}
		if pause == nil {
			return apperr.New(apperr.KindNoActivePause, op, agentID, "no active pause")
		}
		approved, err = e.store.ApprovePause(ctx, pause.ID, supervisorID, notes)
		return err
	})
	if err != nil {
		e.logErr(op, agentID, err)
		return nil, err
	}
	e.logger.Info().Str("agent_id", agentID).Str("supervisor_id", supervisorID).Str("pause_id", approved.ID).Msg("pause approved")
	return approved, nil
}
