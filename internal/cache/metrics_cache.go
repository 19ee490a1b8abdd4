package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
)

// EntryTTL bounds how long a day's counters outlive the day
const EntryTTL = 48 * time.Hour

// MetricsCache holds one counter set per agent per accounting day.
// Fields are advanced with independent atomic increments.
type MetricsCache interface {
	// IncrBy adds delta to an existing entry and stamps lastTick.
	// It returns false without writing when the entry does not exist.
	IncrBy(ctx context.Context, agentID, date string, delta types.Counters, lastTick time.Time) (bool, error)

	// Set replaces the entry, used to seed a missing entry from the durable store
	Set(ctx context.Context, snap types.MetricsSnapshot) error

	// Get returns the entry, or nil when it does not exist
	Get(ctx context.Context, agentID, date string) (*types.MetricsSnapshot, error)

	Ping(ctx context.Context) error
}

// Key returns the cache key for an agent's day
func Key(agentID, date string) string {
	return fmt.Sprintf("metrics:%s:%s", date, agentID)
}

// DateOf returns the accounting day for t
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DayStart returns midnight UTC of t's accounting day
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
