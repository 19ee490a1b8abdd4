package types

// AgentStatus represents the activity an agent is doing right now
type AgentStatus string

const (
	StatusAvailable     AgentStatus = "available"
	StatusInCall        AgentStatus = "in_call"
	StatusOnPause       AgentStatus = "on_pause"
	StatusAfterCallWork AgentStatus = "after_call_work"
	StatusTraining      AgentStatus = "training"
	StatusMeeting       AgentStatus = "meeting"
	StatusOffline       AgentStatus = "offline"
)

// AllStatuses lists every defined status
var AllStatuses = []AgentStatus{
	StatusAvailable,
	StatusInCall,
	StatusOnPause,
	StatusAfterCallWork,
	StatusTraining,
	StatusMeeting,
	StatusOffline,
}

// Valid reports whether s is one of the defined statuses
func (s AgentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to a copy of s
func (s AgentStatus) Ptr() *AgentStatus {
	return &s
}

// PauseType represents why an agent is on pause
type PauseType string

const (
	PauseBathroom    PauseType = "bathroom"
	PauseLunch       PauseType = "lunch"
	PauseBreak       PauseType = "break"
	PauseCoaching    PauseType = "coaching"
	PauseSystemIssue PauseType = "system_issue"
	PausePersonal    PauseType = "personal"
)

// AllPauseTypes lists every defined pause type
var AllPauseTypes = []PauseType{
	PauseBathroom,
	PauseLunch,
	PauseBreak,
	PauseCoaching,
	PauseSystemIssue,
	PausePersonal,
}

// Valid reports whether p is one of the defined pause types
func (p PauseType) Valid() bool {
	for _, known := range AllPauseTypes {
		if p == known {
			return true
		}
	}
	return false
}

// Role represents the role carried by a validated session
type Role string

const (
	RoleAgent      Role = "AGENTE"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
)

// IsSupervisor reports whether the role may act on other agents
func (r Role) IsSupervisor() bool {
	return r == RoleSupervisor || r == RoleAdmin
}

// ConnectionStatus represents whether an agent has a live realtime connection
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionUnknown      ConnectionStatus = "unknown"
)

// Counters is a set of accumulated time (seconds) and count values for one agent
type Counters struct {
	ProductiveTime    int64 `json:"productiveTime"`
	PauseTime         int64 `json:"pauseTime"`
	CallTime          int64 `json:"callTime"`
	AfterCallWorkTime int64 `json:"afterCallWorkTime"`
	Calls             int64 `json:"calls"`
	Sales             int64 `json:"sales"`
}

// Add returns c + o
func (c Counters) Add(o Counters) Counters {
	return Counters{
		ProductiveTime:    c.ProductiveTime + o.ProductiveTime,
		PauseTime:         c.PauseTime + o.PauseTime,
		CallTime:          c.CallTime + o.CallTime,
		AfterCallWorkTime: c.AfterCallWorkTime + o.AfterCallWorkTime,
		Calls:             c.Calls + o.Calls,
		Sales:             c.Sales + o.Sales,
	}
}

// Sub returns c - o
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		ProductiveTime:    c.ProductiveTime - o.ProductiveTime,
		PauseTime:         c.PauseTime - o.PauseTime,
		CallTime:          c.CallTime - o.CallTime,
		AfterCallWorkTime: c.AfterCallWorkTime - o.AfterCallWorkTime,
		Calls:             c.Calls - o.Calls,
		Sales:             c.Sales - o.Sales,
	}
}

// IsZero reports whether every field is zero
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Cache field names, shared by every cache backend
const (
	FieldProductiveTime    = "productiveTime"
	FieldPauseTime         = "pauseTime"
	FieldCallTime          = "callTime"
	FieldAfterCallWorkTime = "afterCallWorkTime"
	FieldCalls             = "calls"
	FieldSales             = "sales"
	FieldLastTick          = "lastTick"
)

// Fields returns the non-zero counters keyed by cache field name
func (c Counters) Fields() map[string]int64 {
	fields := make(map[string]int64, 6)
	set := func(name string, v int64) {
		if v != 0 {
			fields[name] = v
		}
	}
	set(FieldProductiveTime, c.ProductiveTime)
	set(FieldPauseTime, c.PauseTime)
	set(FieldCallTime, c.CallTime)
	set(FieldAfterCallWorkTime, c.AfterCallWorkTime)
	set(FieldCalls, c.Calls)
	set(FieldSales, c.Sales)
	return fields
}

// CountersFromFields builds Counters from cache field values, ignoring unknown fields
func CountersFromFields(fields map[string]int64) Counters {
	return Counters{
		ProductiveTime:    fields[FieldProductiveTime],
		PauseTime:         fields[FieldPauseTime],
		CallTime:          fields[FieldCallTime],
		AfterCallWorkTime: fields[FieldAfterCallWorkTime],
		Calls:             fields[FieldCalls],
		Sales:             fields[FieldSales],
	}
}
