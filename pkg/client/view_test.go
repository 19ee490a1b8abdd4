package client

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/stretchr/testify/assert"
)

func seed(productive int64, status types.AgentStatus) types.InitialStatus {
	return types.InitialStatus{
		AgentID: "a1",
		Status:  &types.AgentStatusRecord{AgentID: "a1", Status: status, IsActive: true},
		Session: &types.WorkSessionRecord{ID: "s1", AgentID: "a1", IsActive: true},
		Metrics: types.MetricsSnapshot{AgentID: "a1", Counters: types.Counters{ProductiveTime: productive}},
	}
}

func TestReconcileDiscardsLocalCounters(t *testing.T) {
	v := NewView("a1", true)
	v.Reconcile(seed(0, types.StatusAvailable))

	// ticking locally while the transport is actually down
	v.Advance(10 * time.Second)
	assert.Equal(t, int64(10), v.Counters().ProductiveTime)

	// server accumulated 15s in total during the same span
	v.Reconcile(seed(15, types.StatusAvailable))
	assert.Equal(t, int64(15), v.Counters().ProductiveTime)
	assert.Equal(t, 2, v.State().Syncs)
}

func TestAdvanceBuckets(t *testing.T) {
	tests := []struct {
		status types.AgentStatus
		want   types.Counters
	}{
		{types.StatusAvailable, types.Counters{ProductiveTime: 5}},
		{types.StatusInCall, types.Counters{CallTime: 5, ProductiveTime: 5}},
		{types.StatusAfterCallWork, types.Counters{AfterCallWorkTime: 5}},
		{types.StatusOnPause, types.Counters{PauseTime: 5}},
		{types.StatusTraining, types.Counters{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			v := NewView("a1", true)
			v.Reconcile(seed(0, tt.status))
			v.Advance(5 * time.Second)
			assert.Equal(t, tt.want, v.Counters())
		})
	}
}

func TestAdvanceCallExcludedFromProductive(t *testing.T) {
	v := NewView("a1", false)
	v.Reconcile(seed(0, types.StatusInCall))
	v.Advance(5 * time.Second)
	assert.Equal(t, types.Counters{CallTime: 5}, v.Counters())
}

func TestAdvanceWithoutSessionIsIgnored(t *testing.T) {
	v := NewView("a1", true)
	v.Advance(time.Minute)
	assert.True(t, v.Counters().IsZero())
	assert.Equal(t, types.StatusOffline, v.State().Status)
}

func TestApplyEvents(t *testing.T) {
	v := NewView("a1", true)
	v.Apply(&types.InitialStatus{AgentID: "a1"})

	v.Apply(&types.StatusUpdated{AgentID: "a2", Status: types.StatusInCall})
	assert.Equal(t, types.StatusOffline, v.State().Status, "other agents are ignored")

	v.Apply(&types.StatusUpdated{AgentID: "a1", Status: types.StatusOnPause, RecordID: "r1"})
	v.Apply(&types.PauseStarted{AgentID: "a1", Pause: types.PauseRecord{ID: "p1", PauseType: types.PauseLunch}})
	state := v.State()
	assert.Equal(t, types.StatusOnPause, state.Status)
	if assert.NotNil(t, state.Pause) {
		assert.Equal(t, "p1", state.Pause.ID)
	}

	v.Apply(&types.PauseEnded{AgentID: "a1"})
	assert.Nil(t, v.State().Pause)

	v.Apply(&types.SystemHealth{Store: types.HealthOK, Cache: types.HealthDegraded, Degraded: true})
	assert.True(t, v.State().Health.Degraded)
}

func TestApplyValueForms(t *testing.T) {
	v := NewView("a1", true)
	v.Apply(types.InitialStatus{AgentID: "a1"})

	v.Apply(types.StatusUpdated{AgentID: "a1", Status: types.StatusOnPause})
	v.Apply(types.PauseStarted{AgentID: "a1", Pause: types.PauseRecord{ID: "p2"}})
	if state := v.State(); assert.NotNil(t, state.Pause) {
		assert.Equal(t, "p2", state.Pause.ID)
	}

	v.Apply(types.PauseEnded{AgentID: "a1"})
	assert.Nil(t, v.State().Pause)

	v.Apply(types.SystemHealth{Store: types.HealthDegraded, Cache: types.HealthOK, Degraded: true})
	assert.Equal(t, types.HealthDegraded, v.State().Health.Store)
}
