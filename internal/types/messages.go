package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a realtime message kind
type MessageType string

// Server to client
const (
	MsgInitialStatus  MessageType = "initial_status"
	MsgStatusUpdated  MessageType = "agent:status_updated"
	MsgPauseStarted   MessageType = "pause:started"
	MsgPauseEnded     MessageType = "pause:ended"
	MsgPauseLongAlert MessageType = "pause:long_alert"
	MsgMetricsUpdate  MessageType = "metrics_update"
	MsgUserJoined     MessageType = "user_joined"
	MsgUserLeft       MessageType = "user_left"
	MsgSubscribed     MessageType = "subscribed"
	MsgUnsubscribed   MessageType = "unsubscribed"
	MsgRoomJoined     MessageType = "room_joined"
	MsgRoomLeft       MessageType = "room_left"
	MsgSystemHealth   MessageType = "system_health"
	MsgError          MessageType = "error"
)

// Client to server
const (
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgJoinRoom    MessageType = "join_room"
	MsgLeaveRoom   MessageType = "leave_room"
	MsgGetState    MessageType = "get_state"
)

// Subscription event names
const (
	EventCampaigns     = "campaigns"
	EventPerformance   = "performance"
	EventCalls         = "calls"
	EventNotifications = "notifications"
	EventAgents        = "agents"
	EventAnalytics     = "analytics"
	EventSystem        = "system"
)

// Error codes carried by ErrorMessage
const (
	CodeUnauthorized   = "unauthorized"
	CodeUnknownMessage = "unknown_message"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal"
)

// Envelope is the wire frame for every realtime message
type Envelope struct {
	Type      MessageType     `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is implemented by every server to client payload
type ServerMessage interface {
	MessageType() MessageType
}

// ClientMessage is implemented by every client to server payload
type ClientMessage interface {
	MessageType() MessageType
}

// UnknownMessageError is returned when a frame carries an unrecognised type
type UnknownMessageError struct {
	Type MessageType
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// InitialStatus seeds client state on connect and on resync
type InitialStatus struct {
	AgentID    string             `json:"agentId"`
	Status     *AgentStatusRecord `json:"status"`
	Session    *WorkSessionRecord `json:"session"`
	Pause      *PauseRecord       `json:"pause"`
	Metrics    MetricsSnapshot    `json:"metrics"`
	ServerTime time.Time          `json:"serverTime"`
}

// StatusUpdated announces a committed status transition
type StatusUpdated struct {
	AgentID        string       `json:"agentId"`
	RecordID       string       `json:"recordId"`
	Status         AgentStatus  `json:"status"`
	PreviousStatus *AgentStatus `json:"previousStatus"`
	Reason         string       `json:"reason"`
	Since          time.Time    `json:"since"`
	CampaignID     string       `json:"campaignId,omitempty"`
}

// PauseStarted announces a new active pause
type PauseStarted struct {
	AgentID    string      `json:"agentId"`
	Pause      PauseRecord `json:"pause"`
	CampaignID string      `json:"campaignId,omitempty"`
}

// PauseEnded announces a closed pause
type PauseEnded struct {
	AgentID    string      `json:"agentId"`
	Pause      PauseRecord `json:"pause"`
	CampaignID string      `json:"campaignId,omitempty"`
}

// PauseLongAlert is emitted once when a pause exceeds its threshold
type PauseLongAlert struct {
	AgentID          string    `json:"agentId"`
	PauseID          string    `json:"pauseId"`
	PauseType        PauseType `json:"pauseType"`
	ElapsedSeconds   int64     `json:"elapsedSeconds"`
	ThresholdSeconds int64     `json:"thresholdSeconds"`
	CampaignID       string    `json:"campaignId,omitempty"`
}

// CampaignTotals aggregates one campaign's agents
type CampaignTotals struct {
	Agents       int                 `json:"agents"`
	StatusCounts map[AgentStatus]int `json:"statusCounts"`
	Counters     Counters            `json:"counters"`
}

// SystemHealth describes dependency health as seen by the server
type SystemHealth struct {
	Store    string `json:"store"` // "ok" or "degraded"
	Cache    string `json:"cache"`
	Degraded bool   `json:"degraded"`
}

// Health values
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// MetricsUpdate is the periodic system-wide aggregate
type MetricsUpdate struct {
	Timestamp        time.Time                 `json:"timestamp"`
	TotalAgents      int                       `json:"totalAgents"`
	StatusCounts     map[AgentStatus]int       `json:"statusCounts"`
	Campaigns        map[string]CampaignTotals `json:"campaigns"`
	Totals           Counters                  `json:"totals"`
	Health           SystemHealth              `json:"health"`
	ConnectedClients int                       `json:"connectedClients"`
}

// UserJoined tells remaining room members that someone joined
type UserJoined struct {
	Room     string `json:"room"`
	ClientID string `json:"clientId"`
	AgentID  string `json:"agentId"`
	Members  int    `json:"members"`
}

// UserLeft tells remaining room members that someone left
type UserLeft struct {
	Room     string `json:"room"`
	ClientID string `json:"clientId"`
	AgentID  string `json:"agentId"`
	Members  int    `json:"members"`
}

// Subscribed acknowledges a subscription
type Subscribed struct {
	Event   string              `json:"event"`
	Filters SubscriptionFilters `json:"filters"`
}

// Unsubscribed acknowledges an unsubscription
type Unsubscribed struct {
	Event string `json:"event"`
}

// RoomJoined acknowledges a room join to the joining client
type RoomJoined struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// RoomLeft acknowledges a room leave to the leaving client
type RoomLeft struct {
	Room string `json:"room"`
}

// ErrorMessage reports a rejected request to the client
type ErrorMessage struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Request MessageType `json:"request,omitempty"`
}

func (InitialStatus) MessageType() MessageType  { return MsgInitialStatus }
func (StatusUpdated) MessageType() MessageType  { return MsgStatusUpdated }
func (PauseStarted) MessageType() MessageType   { return MsgPauseStarted }
func (PauseEnded) MessageType() MessageType     { return MsgPauseEnded }
func (PauseLongAlert) MessageType() MessageType { return MsgPauseLongAlert }
func (MetricsUpdate) MessageType() MessageType  { return MsgMetricsUpdate }
func (UserJoined) MessageType() MessageType     { return MsgUserJoined }
func (UserLeft) MessageType() MessageType       { return MsgUserLeft }
func (Subscribed) MessageType() MessageType     { return MsgSubscribed }
func (Unsubscribed) MessageType() MessageType   { return MsgUnsubscribed }
func (RoomJoined) MessageType() MessageType     { return MsgRoomJoined }
func (RoomLeft) MessageType() MessageType       { return MsgRoomLeft }
func (SystemHealth) MessageType() MessageType   { return MsgSystemHealth }
func (ErrorMessage) MessageType() MessageType   { return MsgError }

// SubscriptionFilters narrows per-agent events. Empty slices match everything.
type SubscriptionFilters struct {
	AgentIDs    []string `json:"agentIds,omitempty"`
	CampaignIDs []string `json:"campaignIds,omitempty"`
}

// Matches reports whether an event for agentID in campaignID passes the filters
func (f SubscriptionFilters) Matches(agentID, campaignID string) bool {
	if len(f.AgentIDs) > 0 && !contains(f.AgentIDs, agentID) {
		return false
	}
	if len(f.CampaignIDs) > 0 && !contains(f.CampaignIDs, campaignID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Subscribe asks for an event stream
type Subscribe struct {
	Event   string              `json:"event"`
	Filters SubscriptionFilters `json:"filters"`
}

// Unsubscribe drops an event stream
type Unsubscribe struct {
	Event string `json:"event"`
}

// JoinRoom asks to join a broadcast room
type JoinRoom struct {
	Room string `json:"room"`
}

// LeaveRoom asks to leave a broadcast room
type LeaveRoom struct {
	Room string `json:"room"`
}

// GetState asks for a fresh initial_status
type GetState struct{}

func (Subscribe) MessageType() MessageType   { return MsgSubscribe }
func (Unsubscribe) MessageType() MessageType { return MsgUnsubscribe }
func (JoinRoom) MessageType() MessageType    { return MsgJoinRoom }
func (LeaveRoom) MessageType() MessageType   { return MsgLeaveRoom }
func (GetState) MessageType() MessageType    { return MsgGetState }

// Encode wraps a payload in an envelope and marshals it
func Encode(msg ServerMessage, agentID string, at time.Time) ([]byte, error) {
	return encode(msg.MessageType(), msg, agentID, at)
}

// EncodeClient wraps a client payload in an envelope and marshals it
func EncodeClient(msg ClientMessage, at time.Time) ([]byte, error) {
	return encode(msg.MessageType(), msg, "", at)
}

func encode(t MessageType, payload interface{}, agentID string, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{
		Type:      t,
		AgentID:   agentID,
		Timestamp: at,
		Payload:   raw,
	})
}

// DecodeClientMessage parses a client frame into its typed payload
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case MsgSubscribe:
		msg = &Subscribe{}
	case MsgUnsubscribe:
		msg = &Unsubscribe{}
	case MsgJoinRoom:
		msg = &JoinRoom{}
	case MsgLeaveRoom:
		msg = &LeaveRoom{}
	case MsgGetState:
		return GetState{}, nil
	default:
		return nil, &UnknownMessageError{Type: env.Type}
	}

	if err := unmarshalPayload(env, msg); err != nil {
		return nil, err
	}
	return deref(msg), nil
}

// DecodeServerMessage parses a server frame into its typed payload
func DecodeServerMessage(data []byte) (Envelope, ServerMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("invalid frame: %w", err)
	}

	var msg ServerMessage
	switch env.Type {
	case MsgInitialStatus:
		msg = &InitialStatus{}
	case MsgStatusUpdated:
		msg = &StatusUpdated{}
	case MsgPauseStarted:
		msg = &PauseStarted{}
	case MsgPauseEnded:
		msg = &PauseEnded{}
	case MsgPauseLongAlert:
		msg = &PauseLongAlert{}
	case MsgMetricsUpdate:
		msg = &MetricsUpdate{}
	case MsgUserJoined:
		msg = &UserJoined{}
	case MsgUserLeft:
		msg = &UserLeft{}
	case MsgSubscribed:
		msg = &Subscribed{}
	case MsgUnsubscribed:
		msg = &Unsubscribed{}
	case MsgRoomJoined:
		msg = &RoomJoined{}
	case MsgRoomLeft:
		msg = &RoomLeft{}
	case MsgSystemHealth:
		msg = &SystemHealth{}
	case MsgError:
		msg = &ErrorMessage{}
	default:
		return env, nil, &UnknownMessageError{Type: env.Type}
	}

	if err := unmarshalPayload(env, msg); err != nil {
		return env, nil, err
	}
	return env, msg, nil
}

func unmarshalPayload(env Envelope, into interface{}) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

func deref(msg ClientMessage) ClientMessage {
	switch m := msg.(type) {
	case *Subscribe:
		return *m
	case *Unsubscribe:
		return *m
	case *JoinRoom:
		return *m
	case *LeaveRoom:
		return *m
	}
	return msg
}
