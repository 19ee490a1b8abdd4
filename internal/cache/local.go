package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	gocache "github.com/patrickmn/go-cache"
)

var counterFields = []string{
	types.FieldProductiveTime,
	types.FieldPauseTime,
	types.FieldCallTime,
	types.FieldAfterCallWorkTime,
	types.FieldCalls,
	types.FieldSales,
}

// LocalCache implements MetricsCache in process with go-cache.
// Each counter field is its own int64 item so increments need no read-modify-write.
type LocalCache struct {
	items *gocache.Cache
	mu    sync.Mutex // serializes Set against IncrBy's existence check
}

// NewLocalCache creates an in-process cache
func NewLocalCache() *LocalCache {
	return &LocalCache{items: gocache.New(EntryTTL, 10*time.Minute)}
}

// Flush drops every entry, simulating an eviction
func (c *LocalCache) Flush() {
	c.items.Flush()
}

func fieldKey(agentID, date, field string) string {
	return Key(agentID, date) + ":" + field
}

func (c *LocalCache) IncrBy(_ context.Context, agentID, date string, delta types.Counters, lastTick time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.items.Get(fieldKey(agentID, date, types.FieldLastTick)); !found {
		return false, nil
	}
	for name, v := range delta.Fields() {
		key := fieldKey(agentID, date, name)
		if _, err := c.items.IncrementInt64(key, v); err != nil {
			c.items.Set(key, v, gocache.DefaultExpiration)
		}
	}
	c.items.Set(fieldKey(agentID, date, types.FieldLastTick), lastTick.Unix(), gocache.DefaultExpiration)
	return true, nil
}

func (c *LocalCache) Set(_ context.Context, snap types.MetricsSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := map[string]int64{
		types.FieldProductiveTime:    snap.Counters.ProductiveTime,
		types.FieldPauseTime:         snap.Counters.PauseTime,
		types.FieldCallTime:          snap.Counters.CallTime,
		types.FieldAfterCallWorkTime: snap.Counters.AfterCallWorkTime,
		types.FieldCalls:             snap.Counters.Calls,
		types.FieldSales:             snap.Counters.Sales,
		types.FieldLastTick:          snap.LastTick.Unix(),
	}
	for name, v := range values {
		c.items.Set(fieldKey(snap.AgentID, snap.Date, name), v, gocache.DefaultExpiration)
	}
	return nil
}

func (c *LocalCache) Get(_ context.Context, agentID, date string) (*types.MetricsSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastTick, found := c.items.Get(fieldKey(agentID, date, types.FieldLastTick))
	if !found {
		return nil, nil
	}

	fields := make(map[string]int64, len(counterFields))
	for _, name := range counterFields {
		if v, ok := c.items.Get(fieldKey(agentID, date, name)); ok {
			fields[name] = v.(int64)
		}
	}

	return &types.MetricsSnapshot{
		AgentID:  agentID,
		Date:     date,
		Counters: types.CountersFromFields(fields),
		LastTick: time.Unix(lastTick.(int64), 0).UTC(),
	}, nil
}

func (c *LocalCache) Ping(context.Context) error {
	return nil
}
