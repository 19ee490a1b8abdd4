package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestEveryRunsOnTick(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s := New(clk, zerolog.Nop())

	ran := make(chan struct{}, 10)
	require.NoError(t, s.Every("tick", time.Second, func(context.Context) { ran <- struct{}{} }))

	s.Start(context.Background())
	defer s.Stop()

	// the loop creates its ticker asynchronously; keep stepping until it runs
	deadline := time.Now().Add(time.Second)
	for len(ran) == 0 && time.Now().Before(deadline) {
		clk.Advance(time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, ran)
}

func TestEveryRejectsInvalidInterval(t *testing.T) {
	s := New(clock.Real(), zerolog.Nop())
	assert.Error(t, s.Every("bad", 0, func(context.Context) {}))
}

func TestEveryRejectedAfterStart(t *testing.T) {
	s := New(clock.Real(), zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()
	assert.Error(t, s.Every("late", time.Second, func(context.Context) {}))
}

func TestCronRegistration(t *testing.T) {
	s := New(clock.Real(), zerolog.Nop())

	require.NoError(t, s.Cron("alerts", "@every 30s", func(context.Context) {}))
	assert.Error(t, s.Cron("alerts", "@every 30s", func(context.Context) {}), "duplicate name")
	assert.Error(t, s.Cron("broken", "not a spec", func(context.Context) {}))
	assert.Equal(t, []string{"alerts"}, s.Jobs())
}

func TestStopWaitsForLoops(t *testing.T) {
	s := New(clock.Real(), zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Every("fast", 5*time.Millisecond, func(context.Context) { runs.Add(1) }))

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
	assert.Positive(t, after)
}

func TestPanickingJobKeepsLoopAlive(t *testing.T) {
	s := New(clock.Real(), zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Every("panicky", 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
		panic("boom")
	}))

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()
	assert.Greater(t, runs.Load(), int32(1))
}
