package client

import (
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// View is the client-side display state for one agent. Counters are the last
// server-confirmed values plus whatever the client advanced locally since;
// every initial_status discards the local part.
type View struct {
	mu sync.RWMutex

	agentID     string
	includeCall bool
	status      *types.AgentStatusRecord
	pause       *types.PauseRecord
	session     *types.WorkSessionRecord
	confirmed   types.Counters
	local       types.Counters
	stale       bool
	syncedAt    time.Time
	health      types.SystemHealth
	syncs       int
}

// ViewState is a copy of the view at one point in time
type ViewState struct {
	AgentID  string
	Status   types.AgentStatus
	Pause    *types.PauseRecord
	Session  *types.WorkSessionRecord
	Counters types.Counters
	Stale    bool
	SyncedAt time.Time
	Health   types.SystemHealth
	Syncs    int
}

// NewView creates an empty view for agentID. includeCall counts in_call time
// as productive as well, matching the server's PRODUCTIVE_INCLUDES_CALL.
func NewView(agentID string, includeCall bool) *View {
	return &View{agentID: agentID, includeCall: includeCall}
}

// Reconcile replaces the view with the server seed. Locally advanced
// counters are dropped.
func (v *View) Reconcile(seed types.InitialStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seed.AgentID != "" {
		v.agentID = seed.AgentID
	}
	v.status = seed.Status
	v.pause = seed.Pause
	v.session = seed.Session
	v.confirmed = seed.Metrics.Counters
	v.local = types.Counters{}
	v.stale = seed.Metrics.Stale
	v.syncedAt = seed.ServerTime
	v.syncs++
}

// Apply folds one server message into the view, in either the pointer form
// DecodeServerMessage returns or the value form. Messages about other agents
// are ignored.
func (v *View) Apply(msg types.ServerMessage) {
	switch m := msg.(type) {
	case *types.InitialStatus:
		v.Reconcile(*m)
	case types.InitialStatus:
		v.Reconcile(m)
	case *types.StatusUpdated:
		v.applyStatus(*m)
	case types.StatusUpdated:
		v.applyStatus(m)
	case *types.PauseStarted:
		v.applyPause(m.AgentID, &m.Pause)
	case types.PauseStarted:
		v.applyPause(m.AgentID, &m.Pause)
	case *types.PauseEnded:
		v.applyPause(m.AgentID, nil)
	case types.PauseEnded:
		v.applyPause(m.AgentID, nil)
	case *types.SystemHealth:
		v.applyHealth(*m)
	case types.SystemHealth:
		v.applyHealth(m)
	}
}

func (v *View) applyHealth(h types.SystemHealth) {
	v.mu.Lock()
	v.health = h
	v.mu.Unlock()
}

func (v *View) applyStatus(m types.StatusUpdated) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if m.AgentID != v.agentID {
		return
	}
	v.status = &types.AgentStatusRecord{
		ID:             m.RecordID,
		AgentID:        m.AgentID,
		Status:         m.Status,
		PreviousStatus: m.PreviousStatus,
		Reason:         m.Reason,
		StartTime:      m.Since,
		IsActive:       true,
	}
	if m.Status == types.StatusOffline {
		v.session = nil
	}
}

func (v *View) applyPause(agentID string, pause *types.PauseRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if agentID != v.agentID {
		return
	}
	if pause != nil {
		p := *pause
		v.pause = &p
		return
	}
	v.pause = nil
}

// Advance moves the local display forward by d in the bucket of the current
// status. The value is unconfirmed until the next Reconcile.
func (v *View) Advance(d time.Duration) {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == nil || v.session == nil {
		return
	}
	switch v.status.Status {
	case types.StatusAvailable:
		v.local.ProductiveTime += secs
	case types.StatusInCall:
		v.local.CallTime += secs
		if v.includeCall {
			v.local.ProductiveTime += secs
		}
	case types.StatusAfterCallWork:
		v.local.AfterCallWorkTime += secs
	case types.StatusOnPause:
		v.local.PauseTime += secs
	}
}

// Counters returns the displayed counters
func (v *View) Counters() types.Counters {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.confirmed.Add(v.local)
}

// State returns a copy of the view
func (v *View) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	state := ViewState{
		AgentID:  v.agentID,
		Status:   types.StatusOffline,
		Pause:    v.pause,
		Session:  v.session,
		Counters: v.confirmed.Add(v.local),
		Stale:    v.stale,
		SyncedAt: v.syncedAt,
		Health:   v.health,
		Syncs:    v.syncs,
	}
	if v.status != nil {
		state.Status = v.status.Status
	}
	return state
}
