package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixedSource struct {
	snap types.SupervisorSnapshot
}

func (f fixedSource) SupervisorSnapshot(context.Context) types.SupervisorSnapshot { return f.snap }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type recordingHub struct {
	events  map[string][]types.ServerMessage
	healths []types.SystemHealth
	last    *types.SystemHealth
}

func (h *recordingHub) BroadcastEvent(event string, msg types.ServerMessage) {
	if h.events == nil {
		h.events = map[string][]types.ServerMessage{}
	}
	h.events[event] = append(h.events[event], msg)
}

func (h *recordingHub) BroadcastHealth(health types.SystemHealth) bool {
	if h.last != nil && *h.last == health {
		return false
	}
	h.last = &health
	h.healths = append(h.healths, health)
	return true
}

func (h *recordingHub) ClientCount() int { return 3 }

func agentView(agentID, campaignID string, status types.AgentStatus, productive int64) types.SupervisorAgentView {
	return types.SupervisorAgentView{
		AgentPresence: types.AgentPresence{AgentID: agentID, CampaignID: campaignID, Status: status},
		Metrics:       types.MetricsSnapshot{AgentID: agentID, Counters: types.Counters{ProductiveTime: productive, Calls: 1}},
	}
}

func TestSummarize(t *testing.T) {
	snap := types.SupervisorSnapshot{
		GeneratedAt: t0,
		Agents: []types.SupervisorAgentView{
			agentView("a1", "c1", types.StatusAvailable, 100),
			agentView("a2", "c1", types.StatusOnPause, 50),
			agentView("a3", "c2", types.StatusAvailable, 10),
		},
	}
	update := Summarize(snap, types.SystemHealth{Store: types.HealthOK, Cache: types.HealthOK})

	assert.Equal(t, 3, update.TotalAgents)
	assert.Equal(t, 2, update.StatusCounts[types.StatusAvailable])
	assert.Equal(t, 1, update.StatusCounts[types.StatusOnPause])
	assert.Equal(t, int64(160), update.Totals.ProductiveTime)
	assert.Equal(t, int64(3), update.Totals.Calls)

	require.Contains(t, update.Campaigns, "c1")
	assert.Equal(t, 2, update.Campaigns["c1"].Agents)
	assert.Equal(t, int64(150), update.Campaigns["c1"].Counters.ProductiveTime)
	assert.Equal(t, 1, update.Campaigns["c2"].StatusCounts[types.StatusAvailable])
}

func TestBroadcastPushesAnalyticsAndSnapshot(t *testing.T) {
	src := fixedSource{snap: types.SupervisorSnapshot{GeneratedAt: t0, Agents: []types.SupervisorAgentView{
		agentView("a1", "c1", types.StatusInCall, 5),
	}}}
	hub := &recordingHub{}
	m := metrics.New()
	agg := NewAggregator(src, pinger{}, pinger{}, hub, clock.NewFake(t0), m, zerolog.Nop())

	update := agg.Broadcast(context.Background())
	assert.Equal(t, 3, update.ConnectedClients)
	require.Len(t, hub.events[types.EventAnalytics], 1)
	assert.Equal(t, types.MsgMetricsUpdate, hub.events[types.EventAnalytics][0].MessageType())
	assert.Len(t, agg.Snapshot().Agents, 1)
	assert.False(t, update.Health.Degraded)

	assert.Equal(t, 1.0, gaugeValue(t, m, "presence_agents_by_status", string(types.StatusInCall)))
	assert.Equal(t, 0.0, gaugeValue(t, m, "presence_agents_by_status", string(types.StatusAvailable)))
}

func gaugeValue(t *testing.T, m *metrics.Metrics, name, status string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge %s{status=%q} not found", name, status)
	return 0
}

func TestHealthNoticeOnlyOnChange(t *testing.T) {
	cachePing := &pinger{}
	hub := &recordingHub{}
	agg := NewAggregator(fixedSource{}, pinger{}, cachePing, hub, clock.NewFake(t0), nil, zerolog.Nop())

	agg.Broadcast(context.Background())
	agg.Broadcast(context.Background())
	cachePing.err = errors.New("dial tcp: connection refused")
	agg.Broadcast(context.Background())

	require.Len(t, hub.healths, 2)
	assert.True(t, hub.healths[1].Degraded)
	assert.Equal(t, types.HealthDegraded, hub.healths[1].Cache)
	assert.Equal(t, types.HealthOK, hub.healths[1].Store)
}
