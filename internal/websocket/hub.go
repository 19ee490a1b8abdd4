package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// allowedEvents is the subscription permission table
var allowedEvents = map[types.Role]map[string]bool{
	types.RoleAgent: {
		types.EventCampaigns:     true,
		types.EventPerformance:   true,
		types.EventCalls:         true,
		types.EventNotifications: true,
	},
	types.RoleSupervisor: {
		types.EventCampaigns:     true,
		types.EventPerformance:   true,
		types.EventCalls:         true,
		types.EventNotifications: true,
		types.EventAgents:        true,
		types.EventAnalytics:     true,
		types.EventSystem:        true,
	},
	types.RoleAdmin: {
		types.EventCampaigns:     true,
		types.EventPerformance:   true,
		types.EventCalls:         true,
		types.EventNotifications: true,
		types.EventAgents:        true,
		types.EventAnalytics:     true,
		types.EventSystem:        true,
	},
}

// CanSubscribe reports whether role may subscribe to event
func CanSubscribe(role types.Role, event string) bool {
	return allowedEvents[role][event]
}

// agentEventStreams receive per-agent events, subject to their filters
var agentEventStreams = []string{types.EventAgents, types.EventAnalytics}

// ConnectionTracker is told when an agent's connections come and go
type ConnectionTracker interface {
	SetConnected(agentID string, connected bool, at time.Time)
}

// StateProvider builds the initial_status seed
type StateProvider interface {
	InitialStatus(ctx context.Context, agentID string) (types.InitialStatus, error)
}

// Hub maintains the set of active clients, their subscriptions and rooms,
// and fans messages out to them. Sends never block: a client whose queue is
// full is dropped.
type Hub struct {
	clients map[*Client]bool
	byAgent map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	// Mutex to protect the maps above and every client's subscriptions and rooms
	mu sync.RWMutex

	tracker ConnectionTracker
	state   StateProvider
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	healthMu sync.Mutex
	health   *types.SystemHealth
}

// NewHub creates a new Hub. tracker and state may be nil in tests.
func NewHub(tracker ConnectionTracker, state StateProvider, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	if clk == nil {
		clk = clock.Real()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		byAgent: make(map[string]map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		tracker: tracker,
		state:   state,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Run blocks until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.logger.Info().Int("clients", len(clients)).Msg("hub stopped")
}

// add registers a client. The agent counts as connected from now.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if h.byAgent[c.agentID] == nil {
		h.byAgent[c.agentID] = make(map[*Client]bool)
	}
	h.byAgent[c.agentID][c] = true
	total := len(h.clients)
	h.mu.Unlock()

	if h.tracker != nil {
		h.tracker.SetConnected(c.agentID, true, h.clock.Now())
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnect()
	}
	h.logger.Info().
		Str("client_id", c.id).
		Str("agent_id", c.agentID).
		Str("role", string(c.role)).
		Int("total_clients", total).
		Msg("client connected")
}

// remove unregisters a client, leaves its rooms and closes its queue.
// Safe to call more than once.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if set := h.byAgent[c.agentID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byAgent, c.agentID)
		}
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	c.subs = nil
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	// presence is unchanged; only the connection count moves
	if h.tracker != nil {
		h.tracker.SetConnected(c.agentID, false, h.clock.Now())
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketDisconnect()
	}
	h.logger.Info().
		Str("client_id", c.id).
		Str("agent_id", c.agentID).
		Int("total_clients", total).
		Msg("client disconnected")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the number of clients in a room
func (h *Hub) RoomMembers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the names of all non-empty rooms
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// PublishAgentEvent delivers a per-agent event to the agent's own
// connections and to matching agents/analytics subscribers. Called in
// commit order per agent.
func (h *Hub) PublishAgentEvent(agentID, campaignID string, msg types.ServerMessage) {
	data, err := types.Encode(msg, agentID, h.clock.Now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to encode agent event")
		return
	}

	h.deliver(msg.MessageType(), data, func(c *Client) bool {
		if c.agentID == agentID {
			return true
		}
		for _, event := range agentEventStreams {
			if f, ok := c.subs[event]; ok && f.Matches(agentID, campaignID) {
				return true
			}
		}
		return false
	})
}

// BroadcastEvent sends msg to every client subscribed to event
func (h *Hub) BroadcastEvent(event string, msg types.ServerMessage) {
	data, err := types.Encode(msg, "", h.clock.Now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to encode broadcast")
		return
	}
	h.deliver(msg.MessageType(), data, func(c *Client) bool {
		_, ok := c.subs[event]
		return ok
	})
}

// BroadcastHealth sends system_health to every client when it differs from
// the last notice. Clients stay connected either way.
func (h *Hub) BroadcastHealth(health types.SystemHealth) bool {
	h.healthMu.Lock()
	if h.health != nil && *h.health == health {
		h.healthMu.Unlock()
		return false
	}
	h.health = &health
	h.healthMu.Unlock()

	data, err := types.Encode(health, "", h.clock.Now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode system health")
		return false
	}
	h.deliver(types.MsgSystemHealth, data, func(*Client) bool { return true })
	h.logger.Info().Str("store", health.Store).Str("cache", health.Cache).Bool("degraded", health.Degraded).Msg("system health changed")
	return true
}

// deliver queues data on every matching client and drops the slow ones
func (h *Hub) deliver(msgType types.MessageType, data []byte, match func(*Client) bool) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		if !c.enqueue(data) {
			slow = append(slow, c)
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(msgType)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client_id", c.id).Str("agent_id", c.agentID).Msg("client send buffer full, closing connection")
		if h.metrics != nil {
			h.metrics.RecordSlowClientDropped()
		}
		h.remove(c)
	}
}

// sendTo queues a message for one client
func (h *Hub) sendTo(c *Client, msg types.ServerMessage) {
	data, err := types.Encode(msg, c.agentID, h.clock.Now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", c.id).Msg("failed to encode message")
		return
	}
	h.mu.RLock()
	ok := !h.clients[c] || c.enqueue(data)
	h.mu.RUnlock()
	if !ok {
		if h.metrics != nil {
			h.metrics.RecordSlowClientDropped()
		}
		h.remove(c)
	}
}

func (h *Hub) subscribe(c *Client, event string, filters types.SubscriptionFilters) bool {
	if !CanSubscribe(c.role, event) {
		return false
	}
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return false
	}
	if c.subs == nil {
		c.subs = make(map[string]types.SubscriptionFilters)
	}
	c.subs[event] = filters
	h.mu.Unlock()
	return true
}

func (h *Hub) unsubscribe(c *Client, event string) {
	h.mu.Lock()
	delete(c.subs, event)
	h.mu.Unlock()
}

// join adds the client to a room and tells the other members. Returns the
// new member count, or 0 for a client that was already removed.
func (h *Hub) join(c *Client, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return 0
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	if members[c] {
		return len(members)
	}
	members[c] = true
	c.rooms[room] = true

	h.notifyRoomLocked(room, c, types.UserJoined{Room: room, ClientID: c.id, AgentID: c.agentID, Members: len(members)})
	return len(members)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// leaveLocked removes the client from a room, deleting the room when it
// empties. Caller holds h.mu.
func (h *Hub) leaveLocked(c *Client, room string) {
	members := h.rooms[room]
	delete(c.rooms, room)
	if !members[c] {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		return
	}
	h.notifyRoomLocked(room, c, types.UserLeft{Room: room, ClientID: c.id, AgentID: c.agentID, Members: len(members)})
}

// notifyRoomLocked sends to every member except the one that changed.
// A full queue is skipped here; the next broadcast drops that client.
func (h *Hub) notifyRoomLocked(room string, except *Client, msg types.ServerMessage) {
	data, err := types.Encode(msg, "", h.clock.Now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("failed to encode room notice")
		return
	}
	for member := range h.rooms[room] {
		if member == except || !h.clients[member] {
			continue
		}
		if !member.enqueue(data) {
			h.logger.Warn().Str("client_id", member.id).Str("room", room).Msg("room notice dropped for slow client")
		}
	}
}
