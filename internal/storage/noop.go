package storage

import (
	"context"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// SessionArchive keeps closed work sessions for history queries
type SessionArchive interface {
	Archive(ctx context.Context, session types.ArchivedSession) error
	History(ctx context.Context, agentID string, limit int) ([]types.ArchivedSession, error)
}

// NoopArchive is a no-op implementation when DynamoDB is disabled
type NoopArchive struct{}

func NewNoopArchive() *NoopArchive { return &NoopArchive{} }

func (NoopArchive) Archive(_ context.Context, _ types.ArchivedSession) error { return nil }
func (NoopArchive) History(_ context.Context, _ string, _ int) ([]types.ArchivedSession, error) {
	return nil, nil
}
