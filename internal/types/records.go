package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is an opaque key/value bag stored as JSON text
type Metadata map[string]string

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Agent is a directory entry for a known agent
type Agent struct {
	AgentID     string    `json:"agentId" gorm:"primaryKey;size:100"`
	DisplayName string    `json:"displayName" gorm:"size:200"`
	CampaignID  string    `json:"campaignId" gorm:"size:100;index"`
	Team        string    `json:"team" gorm:"size:100"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Agent) TableName() string {
	return "agents"
}

// AgentStatusRecord is one status interval. At most one is active per agent.
type AgentStatusRecord struct {
	ID              string       `json:"id" gorm:"primaryKey;size:36"`
	AgentID         string       `json:"agentId" gorm:"size:100;not null;index"`
	Status          AgentStatus  `json:"status" gorm:"size:32;not null"`
	PreviousStatus  *AgentStatus `json:"previousStatus" gorm:"size:32"`
	Reason          string       `json:"reason" gorm:"size:500"`
	Metadata        Metadata     `json:"metadata,omitempty" gorm:"type:text"`
	StartTime       time.Time    `json:"startTime" gorm:"not null;index"`
	EndTime         *time.Time   `json:"endTime"`
	DurationSeconds *int64       `json:"durationSeconds"`
	IsActive        bool         `json:"isActive" gorm:"not null"`
	OriginIP        string       `json:"originIp,omitempty" gorm:"size:64"`
	UserAgent       string       `json:"userAgent,omitempty" gorm:"size:500"`
	CreatedAt       time.Time    `json:"-"`
	UpdatedAt       time.Time    `json:"-"`
}

func (AgentStatusRecord) TableName() string {
	return "agent_status_records"
}

// Close ends the interval at the given time
func (r *AgentStatusRecord) Close(at time.Time) {
	end := at
	duration := int64(end.Sub(r.StartTime) / time.Second)
	r.EndTime = &end
	r.DurationSeconds = &duration
	r.IsActive = false
}

// PauseRecord is one pause interval. At most one is active per agent.
type PauseRecord struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:36"`
	AgentID            string     `json:"agentId" gorm:"size:100;not null;index"`
	PauseType          PauseType  `json:"pauseType" gorm:"size:32;not null"`
	Reason             string     `json:"reason" gorm:"size:500"`
	StartTime          time.Time  `json:"startTime" gorm:"not null"`
	EndTime            *time.Time `json:"endTime"`
	DurationSeconds    *int64     `json:"durationSeconds"`
	IsActive           bool       `json:"isActive" gorm:"not null"`
	SupervisorApproved bool       `json:"supervisorApproved"`
	SupervisorID       *string    `json:"supervisorId" gorm:"size:100"`
	Notes              string     `json:"notes" gorm:"size:1000"`
	AlertSent          bool       `json:"alertSent"`
	CreatedAt          time.Time  `json:"-"`
	UpdatedAt          time.Time  `json:"-"`
}

func (PauseRecord) TableName() string {
	return "pause_records"
}

// Close ends the pause at the given time
func (p *PauseRecord) Close(at time.Time) {
	end := at
	duration := int64(end.Sub(p.StartTime) / time.Second)
	p.EndTime = &end
	p.DurationSeconds = &duration
	p.IsActive = false
}

// WorkSessionRecord is one login session. At most one is active per agent.
type WorkSessionRecord struct {
	ID                       string     `json:"id" gorm:"primaryKey;size:36"`
	AgentID                  string     `json:"agentId" gorm:"size:100;not null;index"`
	LoginTime                time.Time  `json:"loginTime" gorm:"not null;index"`
	LogoutTime               *time.Time `json:"logoutTime"`
	TotalDurationSeconds     *int64     `json:"totalDurationSeconds"`
	ProductiveTimeSeconds    int64      `json:"productiveTimeSeconds"`
	PauseTimeSeconds         int64      `json:"pauseTimeSeconds"`
	CallTimeSeconds          int64      `json:"callTimeSeconds"`
	AfterCallWorkTimeSeconds int64      `json:"afterCallWorkTimeSeconds"`
	CallsHandled             int64      `json:"callsHandled"`
	SalesCount               int64      `json:"salesCount"`
	QualityScore             *float64   `json:"qualityScore"`
	CustomerSatisfaction     *float64   `json:"customerSatisfaction"`
	IsActive                 bool       `json:"isActive" gorm:"not null"`
	CampaignID               string     `json:"campaignId" gorm:"size:100;index"`
	LoginType                string     `json:"loginType" gorm:"size:32"`
	EndReason                string     `json:"endReason,omitempty" gorm:"size:100"`
	CreatedAt                time.Time  `json:"-"`
	UpdatedAt                time.Time  `json:"-"`
}

func (WorkSessionRecord) TableName() string {
	return "work_session_records"
}

// Counters returns the session's accumulated totals
func (w *WorkSessionRecord) Counters() Counters {
	return Counters{
		ProductiveTime:    w.ProductiveTimeSeconds,
		PauseTime:         w.PauseTimeSeconds,
		CallTime:          w.CallTimeSeconds,
		AfterCallWorkTime: w.AfterCallWorkTimeSeconds,
		Calls:             w.CallsHandled,
		Sales:             w.SalesCount,
	}
}

// Close ends the session at the given time
func (w *WorkSessionRecord) Close(at time.Time, reason string) {
	end := at
	total := int64(end.Sub(w.LoginTime) / time.Second)
	w.LogoutTime = &end
	w.TotalDurationSeconds = &total
	w.IsActive = false
	w.EndReason = reason
}

// MetricsSnapshot is the cached counter set for one agent on one accounting day
type MetricsSnapshot struct {
	AgentID  string    `json:"agentId"`
	Date     string    `json:"date"` // YYYY-MM-DD
	Counters Counters  `json:"counters"`
	LastTick time.Time `json:"lastTick"`
	Stale    bool      `json:"stale,omitempty"` // served from last-known values
}

// ActiveState groups an agent's active records. Any field may be nil.
type ActiveState struct {
	Status  *AgentStatusRecord `json:"status"`
	Pause   *PauseRecord       `json:"pause"`
	Session *WorkSessionRecord `json:"session"`
}

// ArchivedSession is a closed work session written to the history archive
type ArchivedSession struct {
	AgentID                  string  `json:"agentId" dynamodbav:"AgentID"`     // partition key
	LoginTime                string  `json:"loginTime" dynamodbav:"LoginTime"` // RFC3339 (sort key)
	SessionID                string  `json:"sessionId" dynamodbav:"SessionID"`
	Date                     string  `json:"date" dynamodbav:"Date"` // YYYY-MM-DD
	LogoutTime               string  `json:"logoutTime" dynamodbav:"LogoutTime"`
	CampaignID               string  `json:"campaignId" dynamodbav:"CampaignID"`
	TotalDurationSeconds     int64   `json:"totalDurationSeconds" dynamodbav:"TotalDurationSeconds"`
	ProductiveTimeSeconds    int64   `json:"productiveTimeSeconds" dynamodbav:"ProductiveTimeSeconds"`
	PauseTimeSeconds         int64   `json:"pauseTimeSeconds" dynamodbav:"PauseTimeSeconds"`
	CallTimeSeconds          int64   `json:"callTimeSeconds" dynamodbav:"CallTimeSeconds"`
	AfterCallWorkTimeSeconds int64   `json:"afterCallWorkTimeSeconds" dynamodbav:"AfterCallWorkTimeSeconds"`
	CallsHandled             int64   `json:"callsHandled" dynamodbav:"CallsHandled"`
	SalesCount               int64   `json:"salesCount" dynamodbav:"SalesCount"`
	Occupancy                float64 `json:"occupancy" dynamodbav:"Occupancy"` // 0-100%
	EndReason                string  `json:"endReason" dynamodbav:"EndReason"`
}

// ArchiveFromSession builds the archive row for a closed session
func ArchiveFromSession(s *WorkSessionRecord) ArchivedSession {
	a := ArchivedSession{
		AgentID:                  s.AgentID,
		LoginTime:                s.LoginTime.UTC().Format(time.RFC3339),
		SessionID:                s.ID,
		Date:                     s.LoginTime.UTC().Format("2006-01-02"),
		CampaignID:               s.CampaignID,
		ProductiveTimeSeconds:    s.ProductiveTimeSeconds,
		PauseTimeSeconds:         s.PauseTimeSeconds,
		CallTimeSeconds:          s.CallTimeSeconds,
		AfterCallWorkTimeSeconds: s.AfterCallWorkTimeSeconds,
		CallsHandled:             s.CallsHandled,
		SalesCount:               s.SalesCount,
		EndReason:                s.EndReason,
	}
	if s.LogoutTime != nil {
		a.LogoutTime = s.LogoutTime.UTC().Format(time.RFC3339)
	}
	if s.TotalDurationSeconds != nil {
		a.TotalDurationSeconds = *s.TotalDurationSeconds
		if a.TotalDurationSeconds > 0 {
			busy := s.CallTimeSeconds + s.AfterCallWorkTimeSeconds
			a.Occupancy = float64(busy) / float64(a.TotalDurationSeconds) * 100
		}
	}
	return a
}

// AgentPresence is the in-memory view of one agent kept by the status table
type AgentPresence struct {
	AgentID          string           `json:"agentId"`
	DisplayName      string           `json:"displayName,omitempty"`
	CampaignID       string           `json:"campaignId,omitempty"`
	Status           AgentStatus      `json:"status"`
	StatusSince      time.Time        `json:"statusSince"`
	PauseType        *PauseType       `json:"pauseType,omitempty"`
	SessionID        string           `json:"sessionId,omitempty"`
	LoginTime        *time.Time       `json:"loginTime,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	Connections      int              `json:"connections"`
	DisconnectedAt   *time.Time       `json:"disconnectedAt,omitempty"`
}

// SupervisorAgentView is one row of the supervisor snapshot
type SupervisorAgentView struct {
	AgentPresence
	TimeInStatusSeconds int64           `json:"timeInStatusSeconds"`
	Metrics             MetricsSnapshot `json:"metrics"`
}

// SupervisorSnapshot is the supervisor aggregate feed
type SupervisorSnapshot struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Agents      []SupervisorAgentView `json:"agents"`
}
