package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/dennisdiepolder/monti/presence/internal/config"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client ID
	id string

	agentID     string
	role        types.Role
	connectedAt time.Time

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages, closed by the hub on removal
	send chan []byte

	// Guarded by hub.mu
	subs  map[string]types.SubscriptionFilters
	rooms map[string]bool

	// Configuration
	config *config.Config

	// Logger
	logger zerolog.Logger
}

// NewClient creates a new Client for a validated session
func NewClient(hub *Hub, conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger, claims *auth.Claims) *Client {
	clientID := uuid.New().String()
	return &Client{
		id:          clientID,
		agentID:     claims.AgentID,
		role:        claims.Role,
		connectedAt: hub.clock.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBuffer),
		subs:        make(map[string]types.SubscriptionFilters),
		rooms:       make(map[string]bool),
		config:      cfg,
		logger:      logger.With().Str("client_id", clientID).Str("agent_id", claims.AgentID).Logger(),
	}
}

// ID returns the client's unique ID
func (c *Client) ID() string {
	return c.id
}

// enqueue queues data without blocking. Caller holds hub.mu and has checked
// the client is still registered.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump pumps messages from the websocket connection to the hub
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}
		c.handle(message)
	}
}

// handle applies one client request and answers it
func (c *Client) handle(message []byte) {
	msg, err := types.DecodeClientMessage(message)
	if err != nil {
		var unknown *types.UnknownMessageError
		if errors.As(err, &unknown) {
			c.hub.sendTo(c, types.ErrorMessage{Code: types.CodeUnknownMessage, Message: err.Error(), Request: unknown.Type})
			return
		}
		c.hub.sendTo(c, types.ErrorMessage{Code: types.CodeBadRequest, Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case types.Subscribe:
		if m.Event == "" {
			c.hub.sendTo(c, types.ErrorMessage{Code: types.CodeBadRequest, Message: "event is required", Request: types.MsgSubscribe})
			return
		}
		if !c.hub.subscribe(c, m.Event, m.Filters) {
			c.logger.Debug().Str("event", m.Event).Msg("subscription rejected")
			c.hub.sendTo(c, types.ErrorMessage{
				Code:    types.CodeUnauthorized,
				Message: "role " + string(c.role) + " may not subscribe to " + m.Event,
				Request: types.MsgSubscribe,
			})
			return
		}
		c.hub.sendTo(c, types.Subscribed{Event: m.Event, Filters: m.Filters})

	case types.Unsubscribe:
		c.hub.unsubscribe(c, m.Event)
		c.hub.sendTo(c, types.Unsubscribed{Event: m.Event})

	case types.JoinRoom:
		if m.Room == "" {
			c.hub.sendTo(c, types.ErrorMessage{Code: types.CodeBadRequest, Message: "room is required", Request: types.MsgJoinRoom})
			return
		}
		members := c.hub.join(c, m.Room)
		c.hub.sendTo(c, types.RoomJoined{Room: m.Room, Members: members})

	case types.LeaveRoom:
		c.hub.leave(c, m.Room)
		c.hub.sendTo(c, types.RoomLeft{Room: m.Room})

	case types.GetState:
		c.sendInitialStatus()
	}
}

// sendInitialStatus queues the agent's current state
func (c *Client) sendInitialStatus() {
	if c.hub.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	initial, err := c.hub.state.InitialStatus(ctx, c.agentID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load initial status")
		c.hub.sendTo(c, types.ErrorMessage{Code: types.CodeInternal, Message: "state unavailable", Request: types.MsgGetState})
		return
	}
	c.hub.sendTo(c, initial)
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one frame per message so every frame is a complete envelope
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
