// Package aggregator computes the periodic system-wide metrics_update and
// the supervisor snapshot, and watches dependency health.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// SnapshotSource builds the per-agent supervisor view
type SnapshotSource interface {
	SupervisorSnapshot(ctx context.Context) types.SupervisorSnapshot
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broadcaster is the slice of the hub the aggregator pushes to
type Broadcaster interface {
	BroadcastEvent(event string, msg types.ServerMessage)
	BroadcastHealth(health types.SystemHealth) bool
	ClientCount() int
}

// Aggregator runs one broadcast cycle per call to Broadcast
type Aggregator struct {
	source SnapshotSource
	store  Pinger
	cache  Pinger
	hub    Broadcaster
	clock  clock.Clock
	logger zerolog.Logger

	metrics *metrics.Metrics

	mu       sync.RWMutex
	snapshot types.SupervisorSnapshot
}

// NewAggregator creates a new aggregator
func NewAggregator(source SnapshotSource, store, cache Pinger, hub Broadcaster, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		source:  source,
		store:   store,
		cache:   cache,
		hub:     hub,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// Broadcast refreshes the supervisor snapshot, pushes metrics_update to
// analytics subscribers and a system_health notice when health changed
func (a *Aggregator) Broadcast(ctx context.Context) types.MetricsUpdate {
	cycleStart := time.Now()

	health := a.Health(ctx)
	a.hub.BroadcastHealth(health)

	snap := a.source.SupervisorSnapshot(ctx)
	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()

	update := Summarize(snap, health)
	update.ConnectedClients = a.hub.ClientCount()
	if a.metrics != nil {
		a.metrics.UpdateAgentStats(update.StatusCounts)
	}
	a.hub.BroadcastEvent(types.EventAnalytics, update)

	a.logger.Debug().
		Int("agents", update.TotalAgents).
		Int("campaigns", len(update.Campaigns)).
		Int("clients", update.ConnectedClients).
		Dur("took", time.Since(cycleStart)).
		Msg("metrics update broadcasted")
	return update
}

// Snapshot returns the supervisor snapshot from the last cycle
func (a *Aggregator) Snapshot() types.SupervisorSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Health pings the store and the cache
func (a *Aggregator) Health(ctx context.Context) types.SystemHealth {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	health := types.SystemHealth{Store: types.HealthOK, Cache: types.HealthOK}
	if a.store != nil {
		if err := a.store.Ping(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("durable store unreachable")
			health.Store = types.HealthDegraded
		}
	}
	if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("metrics cache unreachable")
			health.Cache = types.HealthDegraded
		}
	}
	health.Degraded = health.Store != types.HealthOK || health.Cache != types.HealthOK
	return health
}

// Summarize folds a supervisor snapshot into status counts and per-campaign totals
func Summarize(snap types.SupervisorSnapshot, health types.SystemHealth) types.MetricsUpdate {
	update := types.MetricsUpdate{
		Timestamp:    snap.GeneratedAt,
		TotalAgents:  len(snap.Agents),
		StatusCounts: make(map[types.AgentStatus]int),
		Campaigns:    make(map[string]types.CampaignTotals),
		Health:       health,
	}
	for _, agent := range snap.Agents {
		update.StatusCounts[agent.Status]++
		update.Totals = update.Totals.Add(agent.Metrics.Counters)

		campaign := update.Campaigns[agent.CampaignID]
		if campaign.StatusCounts == nil {
			campaign.StatusCounts = make(map[types.AgentStatus]int)
		}
		campaign.Agents++
		campaign.StatusCounts[agent.Status]++
		campaign.Counters = campaign.Counters.Add(agent.Metrics.Counters)
		update.Campaigns[agent.CampaignID] = campaign
	}
	return update
}
