package storage

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// Store is the durable store for status, pause and work-session records.
// Active-record lookups return (nil, nil) when nothing is active.
type Store interface {
	// InTx runs fn inside one transaction. fn must only use the Store it is given.
	InTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error

	GetAgent(ctx context.Context, agentID string) (*types.Agent, error)
	UpsertAgents(ctx context.Context, agents []types.Agent) error
	ListAgents(ctx context.Context) ([]types.Agent, error)

	ActiveStatus(ctx context.Context, agentID string) (*types.AgentStatusRecord, error)
	CreateStatus(ctx context.Context, rec *types.AgentStatusRecord) error
	CloseStatus(ctx context.Context, rec *types.AgentStatusRecord) error
	ListActiveStatuses(ctx context.Context) ([]types.AgentStatusRecord, error)
	ListStatusHistory(ctx context.Context, agentID string, since time.Time, limit int) ([]types.AgentStatusRecord, error)
	SumStatusDurations(ctx context.Context, agentID string, since, now time.Time) (map[types.AgentStatus]int64, error)

	ActivePause(ctx context.Context, agentID string) (*types.PauseRecord, error)
	CreatePause(ctx context.Context, rec *types.PauseRecord) error
	ClosePause(ctx context.Context, rec *types.PauseRecord) error
	ApprovePause(ctx context.Context, pauseID, supervisorID, notes string) (*types.PauseRecord, error)
	MarkPauseAlertSent(ctx context.Context, pauseID string) (bool, error)
	ListActivePauses(ctx context.Context) ([]types.PauseRecord, error)

	ActiveSession(ctx context.Context, agentID string) (*types.WorkSessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (*types.WorkSessionRecord, error)
	CreateSession(ctx context.Context, rec *types.WorkSessionRecord) error
	CloseSession(ctx context.Context, rec *types.WorkSessionRecord) error
	AddSessionTotals(ctx context.Context, sessionID string, delta types.Counters) error
	SetSessionScores(ctx context.Context, sessionID string, quality, satisfaction *float64) (*types.WorkSessionRecord, error)
	SumSessionsSince(ctx context.Context, agentID string, since time.Time) (types.Counters, error)
	ListActiveSessions(ctx context.Context) ([]types.WorkSessionRecord, error)
}
