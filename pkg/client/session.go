package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second

	// DefaultPongWait matches the server's read deadline; the server pings
	// well inside it
	DefaultPongWait = 60 * time.Second
)

// Config configures a Session
type Config struct {
	// URL is the ws:// or wss:// address of the /ws endpoint
	URL   string
	Token string
	// AgentID is the agent whose view is kept. Defaults to the seed's agent.
	AgentID string

	// ExcludeCallFromProductive mirrors PRODUCTIVE_INCLUDES_CALL=false on the
	// server for locally advanced counters
	ExcludeCallFromProductive bool

	Backoff Backoff
	Clock   clock.Clock
	Dialer  *websocket.Dialer

	// PongWait is how long the connection may stay silent, pings included,
	// before it counts as lost
	PongWait time.Duration

	// OnState is called on every connection state change
	OnState func(StateChange)
	// OnMessage is called for every decoded server message after the view is updated
	OnMessage func(types.Envelope, types.ServerMessage)
}

// Session is a self-healing realtime connection. Subscriptions and rooms are
// replayed after every reconnect and the view is reconciled to the fresh
// initial_status the server sends on connect.
type Session struct {
	cfg    Config
	view   *View
	rc     *Reconnector
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	subs    map[string]types.Subscribe
	rooms   map[string]struct{}
}

// NewSession creates a session. Call Connect to dial.
func NewSession(cfg Config, logger zerolog.Logger) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	s := &Session{
		cfg:    cfg,
		view:   NewView(cfg.AgentID, !cfg.ExcludeCallFromProductive),
		logger: logger.With().Str("component", "realtime_client").Logger(),
		subs:   make(map[string]types.Subscribe),
		rooms:  make(map[string]struct{}),
	}
	s.rc = NewReconnector(s.dial, cfg.Backoff, cfg.Clock, cfg.OnState, logger)
	return s
}

// Connect dials the server. On failure the session keeps reconnecting in the
// background and the first error is returned.
func (s *Session) Connect(ctx context.Context) error {
	return s.rc.Start(ctx)
}

// View returns the reconciled display state
func (s *Session) View() *View {
	return s.view
}

// State returns the connection state
func (s *Session) State() State {
	return s.rc.State()
}

// Retry restarts reconnecting after the session gave up
func (s *Session) Retry() bool {
	return s.rc.Retry()
}

// Subscribe asks for an event stream and remembers it for reconnects
func (s *Session) Subscribe(event string, filters types.SubscriptionFilters) error {
	sub := types.Subscribe{Event: event, Filters: filters}
	s.mu.Lock()
	s.subs[event] = sub
	s.mu.Unlock()
	return s.send(sub)
}

// Unsubscribe drops an event stream
func (s *Session) Unsubscribe(event string) error {
	s.mu.Lock()
	delete(s.subs, event)
	s.mu.Unlock()
	return s.send(types.Unsubscribe{Event: event})
}

// JoinRoom joins a broadcast room and rejoins it after reconnects
func (s *Session) JoinRoom(room string) error {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
	return s.send(types.JoinRoom{Room: room})
}

// LeaveRoom leaves a broadcast room
func (s *Session) LeaveRoom(room string) error {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
	return s.send(types.LeaveRoom{Room: room})
}

// Resync asks the server for a fresh initial_status
func (s *Session) Resync() error {
	return s.send(types.GetState{})
}

// Close disconnects cleanly. It never triggers a reconnect.
func (s *Session) Close() error {
	s.rc.Close()

	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"), deadline)
	return conn.Close()
}

func (s *Session) dial(ctx context.Context) error {
	target, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid realtime url: %w", err)
	}
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", target.Host, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", target.Host, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	replay := make([]types.ClientMessage, 0, len(s.subs)+len(s.rooms))
	for _, sub := range s.subs {
		replay = append(replay, sub)
	}
	for room := range s.rooms {
		replay = append(replay, types.JoinRoom{Room: room})
	}
	s.mu.Unlock()

	go s.readLoop(conn)

	for _, msg := range replay {
		if err := s.write(conn, msg); err != nil {
			return err
		}
	}
	s.logger.Debug().Str("url", target.Host).Int("replayed", len(replay)).Msg("realtime connected")
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			closing := s.closing
			if current {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()

			if closing || !current {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Info().Msg("server closed the connection")
			}
			s.rc.Lost(err)
			return
		}

		env, msg, err := types.DecodeServerMessage(data)
		if err != nil {
			var unknown *types.UnknownMessageError
			if errors.As(err, &unknown) {
				s.logger.Debug().Str("type", string(unknown.Type)).Msg("ignoring unknown server message")
			} else {
				s.logger.Warn().Err(err).Msg("failed to decode server message")
			}
			continue
		}
		s.view.Apply(msg)
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(env, msg)
		}
	}
}

func (s *Session) send(msg types.ClientMessage) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		// replayed on the next connect
		return nil
	}
	return s.write(conn, msg)
}

func (s *Session) write(conn *websocket.Conn, msg types.ClientMessage) error {
	data, err := types.EncodeClient(msg, time.Now().UTC())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
