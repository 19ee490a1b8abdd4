package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/redis/go-redis/v9"
)

// incrIfExists applies HINCRBY pairs only when the hash already exists.
// KEYS[1] = hash, ARGV[1] = lastTick, ARGV[2] = ttl seconds, then field/delta pairs.
var incrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call("HINCRBY", KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call("HSET", KEYS[1], "lastTick", ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// RedisCache implements MetricsCache as one Redis hash per agent per day
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) IncrBy(ctx context.Context, agentID, date string, delta types.Counters, lastTick time.Time) (bool, error) {
	fields := delta.Fields()
	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, lastTick.Unix(), int64(EntryTTL/time.Second))
	for name, v := range fields {
		args = append(args, name, v)
	}

	n, err := incrIfExists.Run(ctx, c.client, []string{Key(agentID, date)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis incr %s: %w", agentID, err)
	}
	return n == 1, nil
}

func (c *RedisCache) Set(ctx context.Context, snap types.MetricsSnapshot) error {
	key := Key(snap.AgentID, snap.Date)
	values := map[string]interface{}{
		types.FieldProductiveTime:    snap.Counters.ProductiveTime,
		types.FieldPauseTime:         snap.Counters.PauseTime,
		types.FieldCallTime:          snap.Counters.CallTime,
		types.FieldAfterCallWorkTime: snap.Counters.AfterCallWorkTime,
		types.FieldCalls:             snap.Counters.Calls,
		types.FieldSales:             snap.Counters.Sales,
		types.FieldLastTick:          snap.LastTick.Unix(),
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, EntryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", snap.AgentID, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, agentID, date string) (*types.MetricsSnapshot, error) {
	raw, err := c.client.HGetAll(ctx, Key(agentID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", agentID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	fields := make(map[string]int64, len(raw))
	for name, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis get %s: field %s: %w", agentID, name, err)
		}
		fields[name] = n
	}

	return &types.MetricsSnapshot{
		AgentID:  agentID,
		Date:     date,
		Counters: types.CountersFromFields(fields),
		LastTick: time.Unix(fields[types.FieldLastTick], 0).UTC(),
	}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
