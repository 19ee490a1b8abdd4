package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/accumulator"
	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type published struct {
	agentID    string
	campaignID string
	msg        types.ServerMessage
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) PublishAgentEvent(agentID, campaignID string, msg types.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{agentID: agentID, campaignID: campaignID, msg: msg})
}

func (r *recorder) types() []types.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.MessageType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.msg.MessageType())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *clock.Fake
	store  *storage.GormStore
	cache  *cache.LocalCache
	acc    *accumulator.Accumulator
	table  *cache.StatusTable
	pub    *recorder
	engine *Engine
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open("sqlite", dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := store.DB().DB(); err == nil {
			sqlDB.Close()
		}
	})

	clk := clock.NewFake(t0)
	local := cache.NewLocalCache()
	m := metrics.New()
	acc := accumulator.New(store, local, clk, m, accumulator.Options{}, zerolog.Nop())
	table := cache.NewStatusTable()
	pub := &recorder{}

	opts := Options{LockTimeout: time.Second, ACWDuration: 30 * time.Second}
	for _, fn := range configure {
		fn(&opts)
	}
	engine := New(store, storage.NewNoopArchive(), acc, table, pub, clk, m, opts, zerolog.Nop())

	f := &fixture{t: t, ctx: context.Background(), clock: clk, store: store, cache: local, acc: acc, table: table, pub: pub, engine: engine}
	require.NoError(t, engine.RegisterAgents(f.ctx, []types.Agent{
		{AgentID: "a1", DisplayName: "Ana", CampaignID: "c1"},
		{AgentID: "a2", DisplayName: "Ben", CampaignID: "c2"},
	}))
	return f
}

func (f *fixture) login(agentID string) *types.WorkSessionRecord {
	f.t.Helper()
	session, err := f.engine.StartSession(f.ctx, SessionStart{AgentID: agentID})
	require.NoError(f.t, err)
	return session
}

func (f *fixture) change(agentID string, status types.AgentStatus) *types.AgentStatusRecord {
	f.t.Helper()
	rec, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: agentID, Status: status})
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) activeStatuses(agentID string) int {
	f.t.Helper()
	all, err := f.store.ListActiveStatuses(f.ctx)
	require.NoError(f.t, err)
	n := 0
	for _, s := range all {
		if s.AgentID == agentID {
			n++
		}
	}
	return n
}

func (f *fixture) activePauses(agentID string) int {
	f.t.Helper()
	all, err := f.store.ListActivePauses(f.ctx)
	require.NoError(f.t, err)
	n := 0
	for _, p := range all {
		if p.AgentID == agentID {
			n++
		}
	}
	return n
}

func TestStartSessionOpensAvailable(t *testing.T) {
	f := newFixture(t)
	session := f.login("a1")

	assert.True(t, session.IsActive)
	assert.Equal(t, "c1", session.CampaignID)
	assert.Equal(t, t0, session.LoginTime)

	status, err := f.store.ActiveStatus(f.ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, types.StatusAvailable, status.Status)
	assert.Nil(t, status.PreviousStatus)

	presence, ok := f.table.Get("a1")
	require.True(t, ok)
	assert.Equal(t, session.ID, presence.SessionID)
	assert.Equal(t, types.StatusAvailable, presence.Status)
	assert.True(t, f.acc.IsTracked("a1"))
	assert.Equal(t, []types.MessageType{types.MsgStatusUpdated}, f.pub.types())
}

func TestStartSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.login("a1")
	f.clock.Advance(5 * time.Second)
	second := f.login("a1")

	assert.Equal(t, first.ID, second.ID)
	history, err := f.store.ListStatusHistory(f.ctx, "a1", t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUnknownAgent(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "ghost", Status: types.StatusAvailable})
	assert.True(t, apperr.Is(err, apperr.KindAgentNotFound))

	_, err = f.engine.StartSession(f.ctx, SessionStart{AgentID: "ghost"})
	assert.True(t, apperr.Is(err, apperr.KindAgentNotFound))

	_, err = f.engine.EndPause(f.ctx, "ghost", "")
	assert.True(t, apperr.Is(err, apperr.KindAgentNotFound))

	_, err = f.engine.GetActiveSession(f.ctx, "ghost")
	assert.True(t, apperr.Is(err, apperr.KindAgentNotFound))

	_, err = f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "", Status: types.StatusAvailable})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAutoRegister(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AutoRegister = true })

	session, err := f.engine.StartSession(f.ctx, SessionStart{AgentID: "new-agent", CampaignID: "c9"})
	require.NoError(t, err)
	assert.Equal(t, "c9", session.CampaignID)

	agent, err := f.store.GetAgent(f.ctx, "new-agent")
	require.NoError(t, err)
	assert.NotNil(t, agent)
}

func TestChangeStatusValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: "sleeping"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: types.StatusTraining})
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "no session yet")
}

func TestChangeStatusSameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	first := f.change("a1", types.StatusTraining)
	f.pub.reset()

	f.clock.Advance(3 * time.Second)
	second := f.change("a1", types.StatusTraining)

	assert.Equal(t, first.ID, second.ID)
	assert.Empty(t, f.pub.types())
}

func TestAtMostOneActiveRecord(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	sequence := []types.AgentStatus{
		types.StatusTraining,
		types.StatusMeeting,
		types.StatusInCall,
		types.StatusAfterCallWork,
		types.StatusAvailable,
		types.StatusOnPause,
		types.StatusAvailable,
	}
	var previous types.AgentStatus = types.StatusAvailable
	for _, status := range sequence {
		f.clock.Advance(2 * time.Second)
		rec := f.change("a1", status)
		require.NotNil(t, rec.PreviousStatus)
		assert.Equal(t, previous, *rec.PreviousStatus)
		assert.Equal(t, 1, f.activeStatuses("a1"))
		previous = status
	}
	assert.Equal(t, 0, f.activePauses("a1"))
}

func TestStartPauseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	f.pub.reset()

	first, err := f.engine.StartPause(f.ctx, "a1", types.PauseLunch, "lunch")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.engine.StartPause(f.ctx, "a1", types.PauseBathroom, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.PauseLunch, second.PauseType)
	assert.Equal(t, 1, f.activePauses("a1"))
	assert.Equal(t, []types.MessageType{types.MsgStatusUpdated, types.MsgPauseStarted}, f.pub.types())

	presence, _ := f.table.Get("a1")
	require.NotNil(t, presence.PauseType)
	assert.Equal(t, types.PauseLunch, *presence.PauseType)
}

func TestStartPauseRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.StartPause(f.ctx, "a1", types.PauseBreak, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition), "logged out")

	f.login("a1")
	_, err = f.engine.StartPause(f.ctx, "a1", "nap", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.change("a1", types.StatusInCall)
	_, err = f.engine.StartPause(f.ctx, "a1", types.PauseBreak, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.Equal(t, 0, f.activePauses("a1"))
}

func TestChangeStatusToPauseUsesMetadata(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	meta := types.Metadata{MetadataPauseType: string(types.PauseCoaching), "note": "1:1"}
	rec, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: types.StatusOnPause, Metadata: meta})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnPause, rec.Status)
	assert.Equal(t, "1:1", rec.Metadata["note"])

	pause, err := f.store.ActivePause(f.ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, pause)
	assert.Equal(t, types.PauseCoaching, pause.PauseType)
}

func TestEndPause(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	_, err := f.engine.EndPause(f.ctx, "a1", "")
	assert.True(t, apperr.Is(err, apperr.KindNoActivePause))

	_, err = f.engine.StartPause(f.ctx, "a1", types.PauseBreak, "")
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)
	f.pub.reset()

	_, err = f.engine.EndPause(f.ctx, "a1", types.StatusInCall)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	closed, err := f.engine.EndPause(f.ctx, "a1", types.StatusTraining)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	require.NotNil(t, closed.DurationSeconds)
	assert.Equal(t, int64(90), *closed.DurationSeconds)

	status, err := f.store.ActiveStatus(f.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTraining, status.Status)
	assert.Equal(t, 0, f.activePauses("a1"))
	assert.Equal(t, []types.MessageType{types.MsgStatusUpdated, types.MsgPauseEnded}, f.pub.types())
}

func TestLeavingPauseClosesIt(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	_, err := f.engine.StartPause(f.ctx, "a1", types.PauseBreak, "")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	f.change("a1", types.StatusAvailable)
	assert.Equal(t, 0, f.activePauses("a1"))
}

func TestConcurrentPauseRequests(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: types.StatusOnPause})
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	var winner string
	for i := range errs {
		if errs[i] != nil {
			assert.True(t, apperr.Is(errs[i], apperr.KindConflict), "unexpected error %v", errs[i])
			continue
		}
		if winner == "" {
			winner = ids[i]
		}
		assert.Equal(t, winner, ids[i])
	}
	assert.NotEmpty(t, winner)
	assert.Equal(t, 1, f.activePauses("a1"))
	assert.Equal(t, 1, f.activeStatuses("a1"))
}

func TestLockTimeoutIsConflict(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.LockTimeout = 20 * time.Millisecond })
	f.login("a1")

	unlock, err := f.engine.lock(f.ctx, "test", "a1")
	require.NoError(t, err)
	defer unlock()

	_, err = f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: types.StatusTraining})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, err.Error(), apperr.ErrConflict.Msg)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.Retryable())
}

func TestScenarioAccounting(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	f.clock.Advance(10 * time.Second)
	_, err := f.engine.CallEstablished(f.ctx, "a1", "call-1")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	_, err = f.engine.CallEnded(f.ctx, "a1", "call-1", true)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	f.change("a1", types.StatusAvailable)
	f.clock.Advance(10 * time.Second)

	closed, err := f.engine.EndSession(f.ctx, "a1", EndReasonLogout)
	require.NoError(t, err)

	assert.Equal(t, int64(20), closed.ProductiveTimeSeconds)
	assert.Equal(t, int64(10), closed.CallTimeSeconds)
	assert.Equal(t, int64(10), closed.AfterCallWorkTimeSeconds)
	assert.Equal(t, int64(1), closed.CallsHandled)
	assert.Equal(t, int64(1), closed.SalesCount)
	require.NotNil(t, closed.TotalDurationSeconds)
	assert.Equal(t, int64(40), *closed.TotalDurationSeconds)
	assert.Equal(t, EndReasonLogout, closed.EndReason)
	assert.False(t, f.acc.IsTracked("a1"))
}

func TestStatusDurationsAddUpToSession(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	steps := []struct {
		status types.AgentStatus
		hold   time.Duration
	}{
		{types.StatusTraining, 7 * time.Second},
		{types.StatusOnPause, 65 * time.Second},
		{types.StatusAvailable, 3 * time.Second},
		{types.StatusInCall, 120 * time.Second},
		{types.StatusMeeting, 11 * time.Second},
	}
	f.clock.Advance(4 * time.Second)
	for _, s := range steps {
		f.change("a1", s.status)
		f.clock.Advance(s.hold)
	}
	closed, err := f.engine.EndSession(f.ctx, "a1", "")
	require.NoError(t, err)

	sums, err := f.store.SumStatusDurations(f.ctx, "a1", t0, f.clock.Now())
	require.NoError(t, err)
	var inSession int64
	for status, secs := range sums {
		if status != types.StatusOffline {
			inSession += secs
		}
	}
	assert.Equal(t, *closed.TotalDurationSeconds, inSession)
	assert.Equal(t, int64(65), closed.PauseTimeSeconds)
	assert.Equal(t, int64(7), sums[types.StatusAvailable])
}

func TestEndSessionFinalFlush(t *testing.T) {
	f := newFixture(t)
	session := f.login("a1")
	f.clock.Advance(45 * time.Second)
	f.pub.reset()

	rec, err := f.engine.ChangeStatus(f.ctx, StatusChange{AgentID: "a1", Status: types.StatusOffline})
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, rec.Status)

	stored, err := f.store.GetSession(f.ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, int64(45), stored.ProductiveTimeSeconds)

	snap, err := f.cache.Get(f.ctx, "a1", cache.DateOf(t0))
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(45), snap.Counters.ProductiveTime)

	// time after logout is not attributed
	f.clock.Advance(time.Minute)
	f.acc.Tick(f.ctx)
	snap, err = f.cache.Get(f.ctx, "a1", cache.DateOf(t0))
	require.NoError(t, err)
	assert.Equal(t, int64(45), snap.Counters.ProductiveTime)

	presence, _ := f.table.Get("a1")
	assert.Empty(t, presence.SessionID)
	assert.Equal(t, types.StatusOffline, presence.Status)

	_, err = f.engine.EndSession(f.ctx, "a1", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestLoginAfterLogoutIncludesEarlierSession(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	f.clock.Advance(30 * time.Second)
	_, err := f.engine.EndSession(f.ctx, "a1", "")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	f.cache.Flush()
	f.login("a1")
	f.clock.Advance(5 * time.Second)

	snap, err := f.engine.GetCurrentMetrics(f.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(35), snap.Counters.ProductiveTime)
}

func TestACWTimerReturnsToAvailable(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	_, err := f.engine.CallEstablished(f.ctx, "a1", "call-1")
	require.NoError(t, err)

	_, err = f.engine.CallEnded(f.ctx, "a1", "call-1", false)
	require.NoError(t, err)
	assert.True(t, f.engine.PendingACW("a1"))

	f.clock.Advance(29 * time.Second)
	status, _ := f.store.ActiveStatus(f.ctx, "a1")
	assert.Equal(t, types.StatusAfterCallWork, status.Status)

	f.clock.Advance(time.Second)
	status, _ = f.store.ActiveStatus(f.ctx, "a1")
	assert.Equal(t, types.StatusAvailable, status.Status)
	assert.False(t, f.engine.PendingACW("a1"))
}

func TestACWTimerCancelledByManualChange(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	_, err := f.engine.CallEstablished(f.ctx, "a1", "call-1")
	require.NoError(t, err)
	_, err = f.engine.CallEnded(f.ctx, "a1", "call-1", false)
	require.NoError(t, err)

	f.change("a1", types.StatusTraining)
	assert.False(t, f.engine.PendingACW("a1"))

	f.clock.Advance(time.Minute)
	status, _ := f.store.ActiveStatus(f.ctx, "a1")
	assert.Equal(t, types.StatusTraining, status.Status)
}

func TestCallEndedRequiresCall(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	_, err := f.engine.CallEnded(f.ctx, "a1", "call-1", false)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
}

func TestEndDisconnected(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	f.login("a2")

	f.table.SetConnected("a1", true, f.clock.Now())
	f.table.SetConnected("a2", true, f.clock.Now())
	f.table.SetConnected("a1", false, f.clock.Now())

	f.clock.Advance(4 * time.Minute)
	assert.Empty(t, f.engine.EndDisconnected(f.ctx, 5*time.Minute))

	f.clock.Advance(time.Minute)
	assert.Equal(t, []string{"a1"}, f.engine.EndDisconnected(f.ctx, 5*time.Minute))

	session, err := f.engine.GetActiveSession(f.ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, session)

	session, err = f.engine.GetActiveSession(f.ctx, "a2")
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func TestEventOrder(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	_, err := f.engine.StartPause(f.ctx, "a1", types.PauseBreak, "")
	require.NoError(t, err)
	f.change("a1", types.StatusAvailable)
	_, err = f.engine.EndSession(f.ctx, "a1", "")
	require.NoError(t, err)

	assert.Equal(t, []types.MessageType{
		types.MsgStatusUpdated, // available
		types.MsgStatusUpdated, // on_pause
		types.MsgPauseStarted,
		types.MsgStatusUpdated, // available
		types.MsgPauseEnded,
		types.MsgStatusUpdated, // offline
	}, f.pub.types())

	for _, e := range f.pub.events {
		assert.Equal(t, "a1", e.agentID)
		assert.Equal(t, "c1", e.campaignID)
	}
}

func TestApprovePause(t *testing.T) {
	f := newFixture(t)
	f.login("a1")

	_, err := f.engine.ApprovePause(f.ctx, "a1", "sup-1", "ok")
	assert.True(t, apperr.Is(err, apperr.KindNoActivePause))

	_, err = f.engine.StartPause(f.ctx, "a1", types.PausePersonal, "")
	require.NoError(t, err)
	approved, err := f.engine.ApprovePause(f.ctx, "a1", "sup-1", "ok")
	require.NoError(t, err)
	assert.True(t, approved.SupervisorApproved)
	require.NotNil(t, approved.SupervisorID)
	assert.Equal(t, "sup-1", *approved.SupervisorID)
}

func TestSetSessionScores(t *testing.T) {
	f := newFixture(t)
	session := f.login("a1")

	bad := 101.0
	_, err := f.engine.SetSessionScores(f.ctx, session.ID, &bad, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.engine.SetSessionScores(f.ctx, "missing", nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	quality, csat := 88.5, 4.5
	updated, err := f.engine.SetSessionScores(f.ctx, session.ID, &quality, &csat)
	require.NoError(t, err)
	assert.Equal(t, quality, *updated.QualityScore)
	assert.Equal(t, csat, *updated.CustomerSatisfaction)
}

func TestInitialStatusAndSnapshot(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	f.clock.Advance(12 * time.Second)
	f.acc.Tick(f.ctx)

	initial, err := f.engine.InitialStatus(f.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAvailable, initial.Status.Status)
	assert.NotNil(t, initial.Session)
	assert.Nil(t, initial.Pause)
	assert.Equal(t, int64(12), initial.Metrics.Counters.ProductiveTime)

	snap := f.engine.SupervisorSnapshot(f.ctx)
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "a1", snap.Agents[0].AgentID)
	assert.Equal(t, int64(12), snap.Agents[0].TimeInStatusSeconds)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	f.login("a1")
	_, err := f.engine.StartPause(f.ctx, "a1", types.PauseLunch, "")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Second)
	f.acc.Flush(f.ctx)

	// a fresh process over the same store
	acc := accumulator.New(f.store, cache.NewLocalCache(), f.clock, nil, accumulator.Options{}, zerolog.Nop())
	table := cache.NewStatusTable()
	restarted := New(f.store, nil, acc, table, nil, f.clock, nil, Options{ACWDuration: 30 * time.Second}, zerolog.Nop())
	require.NoError(t, restarted.Recover(f.ctx))

	presence, ok := table.Get("a1")
	require.True(t, ok)
	assert.Equal(t, types.StatusOnPause, presence.Status)
	require.NotNil(t, presence.PauseType)
	assert.Equal(t, types.PauseLunch, *presence.PauseType)
	assert.Equal(t, types.ConnectionDisconnected, presence.ConnectionStatus)
	assert.True(t, acc.IsTracked("a1"))

	f.clock.Advance(10 * time.Second)
	closed, err := restarted.EndSession(f.ctx, "a1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), closed.PauseTimeSeconds)
}
