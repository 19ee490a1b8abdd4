package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// StatusTable maintains the current presence of all agents in memory.
// The presence engine writes it after every commit; the hub and the
// aggregator read it.
type StatusTable struct {
	agents map[string]*types.AgentPresence // agentID -> current state
	mu     sync.RWMutex
}

// NewStatusTable creates an empty status table
func NewStatusTable() *StatusTable {
	return &StatusTable{
		agents: make(map[string]*types.AgentPresence),
	}
}

func (t *StatusTable) entry(agentID string) *types.AgentPresence {
	p, ok := t.agents[agentID]
	if !ok {
		p = &types.AgentPresence{
			AgentID:          agentID,
			Status:           types.StatusOffline,
			ConnectionStatus: types.ConnectionUnknown,
		}
		t.agents[agentID] = p
	}
	return p
}

// Register records directory data without touching presence
func (t *StatusTable) Register(agent types.Agent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entry(agent.AgentID)
	p.DisplayName = agent.DisplayName
	p.CampaignID = agent.CampaignID
}

// SetStatus records a committed status. pauseType is nil unless on_pause.
func (t *StatusTable) SetStatus(agentID string, status types.AgentStatus, since time.Time, pauseType *types.PauseType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entry(agentID)
	p.Status = status
	p.StatusSince = since
	p.PauseType = pauseType
}

// SetSession records the active work session
func (t *StatusTable) SetSession(agentID, sessionID string, loginTime time.Time, campaignID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entry(agentID)
	p.SessionID = sessionID
	login := loginTime
	p.LoginTime = &login
	if campaignID != "" {
		p.CampaignID = campaignID
	}
}

// ClearSession forgets the active work session
func (t *StatusTable) ClearSession(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.agents[agentID]; ok {
		p.SessionID = ""
		p.LoginTime = nil
	}
}

// SetConnected counts realtime connections per agent. The transition to
// zero connections stamps DisconnectedAt for the grace sweep.
func (t *StatusTable) SetConnected(agentID string, connected bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entry(agentID)
	if connected {
		p.Connections++
		p.ConnectionStatus = types.ConnectionConnected
		p.DisconnectedAt = nil
		return
	}

	if p.Connections > 0 {
		p.Connections--
	}
	if p.Connections == 0 {
		p.ConnectionStatus = types.ConnectionDisconnected
		disconnected := at
		p.DisconnectedAt = &disconnected
	}
}

// DisconnectedSince returns agents with an active session whose last
// connection dropped at or before cutoff
func (t *StatusTable) DisconnectedSince(cutoff time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id, p := range t.agents {
		if p.SessionID == "" || p.ConnectionStatus != types.ConnectionDisconnected || p.DisconnectedAt == nil {
			continue
		}
		if !p.DisconnectedAt.After(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Get returns a copy of one agent's presence
func (t *StatusTable) Get(agentID string) (types.AgentPresence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.agents[agentID]
	if !ok {
		return types.AgentPresence{}, false
	}
	return *p, true
}

// GetAll returns all agents' presence ordered by agent ID
func (t *StatusTable) GetAll() []types.AgentPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]types.AgentPresence, 0, len(t.agents))
	for _, state := range t.agents {
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].AgentID < states[j].AgentID })
	return states
}

// GetLoggedIn returns agents with an active work session
func (t *StatusTable) GetLoggedIn() []types.AgentPresence {
	all := t.GetAll()
	loggedIn := all[:0]
	for _, p := range all {
		if p.SessionID != "" {
			loggedIn = append(loggedIn, p)
		}
	}
	return loggedIn
}

// CountByStatus counts logged-in agents per status
func (t *StatusTable) CountByStatus() map[types.AgentStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[types.AgentStatus]int)
	for _, p := range t.agents {
		if p.SessionID != "" {
			counts[p.Status]++
		}
	}
	return counts
}

// Count returns the total number of tracked agents
func (t *StatusTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.agents)
}

// GetConnectionStats returns connection statistics
func (t *StatusTable) GetConnectionStats() (connected, disconnected int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, agent := range t.agents {
		switch agent.ConnectionStatus {
		case types.ConnectionConnected:
			connected++
		case types.ConnectionDisconnected:
			disconnected++
		}
	}
	return
}
