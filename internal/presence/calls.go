package presence

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// CallEstablished moves the agent to in_call. An active pause is closed.
func (e *Engine) CallEstablished(ctx context.Context, agentID, callID string) (*types.AgentStatusRecord, error) {
	return e.ChangeStatus(ctx, StatusChange{
		AgentID:  agentID,
		Status:   types.StatusInCall,
		Reason:   "call established",
		Metadata: types.Metadata{"callId": callID},
	})
}

// CallEnded moves the agent to after_call_work, counts the call and arms the
// ACW timer that returns the agent to available.
func (e *Engine) CallEnded(ctx context.Context, agentID, callID string, sale bool) (*types.AgentStatusRecord, error) {
	const op = "callEnded"
	if _, err := e.requireAgent(ctx, op, agentID); err != nil {
		return nil, err
	}

	var res committed
	err := e.withAgent(ctx, op, agentID, func() error {
		if err := e.requireSession(ctx, op, agentID); err != nil {
			return err
		}
		now := e.now()
		res = committed{}
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			current, err := tx.ActiveStatus(ctx, agentID)
			if err != nil {
				return err
			}
			if current == nil || current.Status != types.StatusInCall {
				return apperr.New(apperr.KindInvalidTransition, op, agentID, "agent is not in a call")
			}
			res, err = transition(ctx, tx, StatusChange{
				AgentID:  agentID,
				Status:   types.StatusAfterCallWork,
				Reason:   "call ended",
				Metadata: types.Metadata{"callId": callID},
			}, now)
			return err
		})
		if err != nil {
			return err
		}
		e.acc.RecordCall(agentID, sale)
		e.afterTransition(res, now)
		e.armACW(agentID, res.status.ID, e.opts.ACWDuration)
		return nil
	})
	if err != nil {
		e.logErr(op, agentID, err)
		return nil, err
	}
	return res.status, nil
}

// armACW schedules the return to available. The timer is a no-op if the
// agent has left the after_call_work record it was armed for.
func (e *Engine) armACW(agentID, recordID string, after time.Duration) {
	if after <= 0 {
		return
	}
	e.acwMu.Lock()
	defer e.acwMu.Unlock()

	if t, ok := e.acwTimers[agentID]; ok {
		t.Stop()
	}
	e.acwTimers[agentID] = e.clock.AfterFunc(after, func() {
		e.acwExpired(agentID, recordID)
	})
}

func (e *Engine) cancelACW(agentID string) {
	e.acwMu.Lock()
	defer e.acwMu.Unlock()
	if t, ok := e.acwTimers[agentID]; ok {
		t.Stop()
		delete(e.acwTimers, agentID)
	}
}

func (e *Engine) acwExpired(agentID, recordID string) {
	const op = "acwExpired"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.acwMu.Lock()
	delete(e.acwTimers, agentID)
	e.acwMu.Unlock()

	err := e.withAgent(ctx, op, agentID, func() error {
		now := e.now()
		var res committed
		err := e.store.InTx(ctx, func(tx storage.Store) error {
			current, err := tx.ActiveStatus(ctx, agentID)
			if err != nil {
				return err
			}
			if current == nil || current.ID != recordID {
				return nil
			}
			res, err = transition(ctx, tx, StatusChange{AgentID: agentID, Status: types.StatusAvailable, Reason: "after call work ended"}, now)
			return err
		})
		if err != nil {
			return err
		}
		e.afterTransition(res, now)
		return nil
	})
	if err != nil {
		e.logErr(op, agentID, err)
	}
}

// PendingACW reports whether an ACW timer is armed for the agent
func (e *Engine) PendingACW(agentID string) bool {
	e.acwMu.Lock()
	defer e.acwMu.Unlock()
	_, ok := e.acwTimers[agentID]
	return ok
}
