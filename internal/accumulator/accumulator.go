// Package accumulator turns elapsed wall-clock time into per-agent counters.
// Time is attributed to the bucket of the agent's current status, pushed to
// the metrics cache on every tick and folded into the active work session on
// every flush.
package accumulator

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/metrics"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// SessionStore is the slice of the durable store the accumulator writes to
type SessionStore interface {
	AddSessionTotals(ctx context.Context, sessionID string, delta types.Counters) error
	SumSessionsSince(ctx context.Context, agentID string, since time.Time) (types.Counters, error)
}

// Options tunes bucket attribution
type Options struct {
	// ProductiveIncludesCall counts in_call time as productive as well as call time
	ProductiveIncludesCall bool
}

// Accumulator tracks every agent with an active work session
type Accumulator struct {
	store   SessionStore
	cache   cache.MetricsCache
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu     sync.RWMutex
	agents map[string]*agentEntry

	knownMu   sync.Mutex
	lastKnown map[string]types.MetricsSnapshot
	carried   map[string]types.MetricsSnapshot // closed overnight sessions' share of their last day
}

// agentEntry lock order: cacheMu, then flushMu, then mu
type agentEntry struct {
	agentID   string
	sessionID string
	loginTime time.Time

	mu          sync.Mutex // guards the fields below
	bucket      types.AgentStatus
	since       time.Time
	stopAt      time.Time // non-zero once the final flush has run
	productive  time.Duration
	pause       time.Duration
	call        time.Duration
	acw         time.Duration
	calls       int64
	sales       int64
	includeCall bool
	day         string         // accounting day of since
	dayBase     types.Counters // whole() at the start of day

	cacheMu sync.Mutex
	cached  types.Counters // whole seconds already in the cache, guarded by cacheMu

	flushMu sync.Mutex
	flushed types.Counters // whole seconds already in the store, guarded by flushMu
}

// New creates an accumulator
func New(store SessionStore, metricsCache cache.MetricsCache, clk clock.Clock, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Accumulator {
	return &Accumulator{
		store:     store,
		cache:     metricsCache,
		clock:     clk,
		logger:    logger.With().Str("component", "accumulator").Logger(),
		metrics:   m,
		opts:      opts,
		agents:    make(map[string]*agentEntry),
		lastKnown: make(map[string]types.MetricsSnapshot),
		carried:   make(map[string]types.MetricsSnapshot),
	}
}

// advance attributes the time since the last advance to the current bucket,
// splitting at the accounting-day boundary. Caller holds e.mu.
func (e *agentEntry) advance(now time.Time) {
	if !e.stopAt.IsZero() && now.After(e.stopAt) {
		now = e.stopAt
	}
	if !now.After(e.since) {
		return
	}
	if boundary := cache.DayStart(now); e.since.Before(boundary) {
		e.attribute(boundary.Sub(e.since))
		e.since = boundary
		e.day = cache.DateOf(boundary)
		e.dayBase = e.whole()
	}
	e.attribute(now.Sub(e.since))
	e.since = now
}

func (e *agentEntry) attribute(d time.Duration) {
	switch e.bucket {
	case types.StatusAvailable:
		e.productive += d
	case types.StatusInCall:
		e.call += d
		if e.includeCall {
			e.productive += d
		}
	case types.StatusOnPause:
		e.pause += d
	case types.StatusAfterCallWork:
		e.acw += d
	}
}

// whole returns the accrued counters in whole seconds. Caller holds e.mu.
func (e *agentEntry) whole() types.Counters {
	return types.Counters{
		ProductiveTime:    int64(e.productive / time.Second),
		PauseTime:         int64(e.pause / time.Second),
		CallTime:          int64(e.call / time.Second),
		AfterCallWorkTime: int64(e.acw / time.Second),
		Calls:             e.calls,
		Sales:             e.sales,
	}
}

func (e *agentEntry) total(now time.Time) types.Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance(now)
	return e.whole()
}

// ownToday returns the part of total that the stored sum of sessions opened
// since dayStart does not hold yet. A session opened before dayStart is not
// in that sum, so only its time since dayStart counts. Caller holds e.flushMu.
func (e *agentEntry) ownToday(total types.Counters, dayStart time.Time) types.Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loginTime.Before(dayStart) {
		return total.Sub(e.flushed)
	}
	if e.day != cache.DateOf(dayStart) {
		return types.Counters{}
	}
	return total.Sub(e.dayBase)
}

// Track starts ticking a session that opened at at, in the given bucket.
// An existing entry for the same session is kept.
func (a *Accumulator) Track(agentID, sessionID string, status types.AgentStatus, at time.Time) {
	a.TrackSession(agentID, sessionID, status, at, at)
}

// TrackSession starts ticking from at a session that opened at loginTime,
// which is earlier than at for sessions recovered after a restart.
func (a *Accumulator) TrackSession(agentID, sessionID string, status types.AgentStatus, loginTime, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.agents[agentID]; ok && e.sessionID == sessionID {
		return
	}
	a.agents[agentID] = &agentEntry{
		agentID:     agentID,
		sessionID:   sessionID,
		loginTime:   loginTime,
		bucket:      status,
		since:       at,
		day:         cache.DateOf(at),
		includeCall: a.opts.ProductiveIncludesCall,
	}
	a.logger.Debug().Str("agent_id", agentID).Str("session_id", sessionID).Msg("tracking agent")
}

// Untrack stops ticking an agent. Call FlushAgent first.
// A session that opened on an earlier day leaves its share of the current day
// behind, since the stored per-day sum does not see it.
func (a *Accumulator) Untrack(agentID string) {
	a.mu.Lock()
	e := a.agents[agentID]
	delete(a.agents, agentID)
	a.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	overnight := e.loginTime.Before(cache.DayStart(e.since))
	share := types.MetricsSnapshot{AgentID: agentID, Date: e.day, Counters: e.whole().Sub(e.dayBase)}
	e.mu.Unlock()
	if !overnight || share.Counters.IsZero() {
		return
	}
	a.knownMu.Lock()
	a.carried[agentID] = share
	a.knownMu.Unlock()
}

// carriedOn returns what a closed overnight session accrued on date
func (a *Accumulator) carriedOn(agentID, date string) types.Counters {
	a.knownMu.Lock()
	defer a.knownMu.Unlock()
	if c, ok := a.carried[agentID]; ok && c.Date == date {
		return c.Counters
	}
	return types.Counters{}
}

// IsTracked reports whether the agent has a ticking session
func (a *Accumulator) IsTracked(agentID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.agents[agentID]
	return ok
}

// Tracked returns the number of ticking agents
func (a *Accumulator) Tracked() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.agents)
}

func (a *Accumulator) get(agentID string) *agentEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.agents[agentID]
}

func (a *Accumulator) entries() []*agentEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := make([]*agentEntry, 0, len(a.agents))
	for _, e := range a.agents {
		list = append(list, e)
	}
	return list
}

// SetBucket switches the bucket ticks are attributed to, effective at
func (a *Accumulator) SetBucket(agentID string, status types.AgentStatus, at time.Time) {
	e := a.get(agentID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advance(at)
	e.bucket = status
}

// RecordCall counts a handled call and optionally a sale
func (a *Accumulator) RecordCall(agentID string, sale bool) {
	e := a.get(agentID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if sale {
		e.sales++
	}
}

// Resume undoes a final flush whose session close did not commit
func (a *Accumulator) Resume(agentID string) {
	e := a.get(agentID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAt = time.Time{}
}

// Tick pushes every agent's time since the last tick to the metrics cache.
// Cache failures are logged and retried on the next tick.
func (a *Accumulator) Tick(ctx context.Context) {
	start := time.Now()
	now := a.clock.Now()
	list := a.entries()
	for _, e := range list {
		a.pushToCache(ctx, e, now)
	}
	if a.metrics != nil {
		a.metrics.RecordTick(time.Since(start), len(list))
	}
}

func (a *Accumulator) pushToCache(ctx context.Context, e *agentEntry, now time.Time) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	total := e.total(now)
	delta := total.Sub(e.cached)
	if delta.IsZero() {
		return
	}

	date := cache.DateOf(now)
	ok, err := a.cache.IncrBy(ctx, e.agentID, date, delta, now)
	if err != nil {
		a.cacheError("incr", e.agentID, err)
		return
	}
	if !ok {
		// entry evicted or a new accounting day
		if _, err := a.reseed(ctx, e, now, total); err != nil {
			a.logger.Warn().Err(err).Str("agent_id", e.agentID).Msg("failed to reseed metrics cache")
		}
		return
	}
	e.cached = total
	a.addKnown(e.agentID, date, delta, now)
}

// reseed rebuilds the cache entry from the durable store plus this
// process's unflushed time. Caller holds e.cacheMu.
func (a *Accumulator) reseed(ctx context.Context, e *agentEntry, now time.Time, total types.Counters) (types.MetricsSnapshot, error) {
	dayStart := cache.DayStart(now)
	e.flushMu.Lock()
	stored, err := a.store.SumSessionsSince(ctx, e.agentID, dayStart)
	own := e.ownToday(total, dayStart)
	e.flushMu.Unlock()
	if err != nil {
		return types.MetricsSnapshot{}, err
	}

	snap := types.MetricsSnapshot{
		AgentID:  e.agentID,
		Date:     cache.DateOf(now),
		Counters: stored.Add(own).Add(a.carriedOn(e.agentID, cache.DateOf(now))),
		LastTick: now,
	}
	if err := a.cache.Set(ctx, snap); err != nil {
		a.cacheError("set", e.agentID, err)
		snap.Stale = true
		return snap, nil
	}
	e.cached = total
	a.setKnown(snap)
	a.logger.Info().Str("agent_id", e.agentID).Int64("productive_time", snap.Counters.ProductiveTime).Msg("metrics cache entry reconstructed")
	return snap, nil
}

// Flush folds each agent's unflushed whole seconds into its active work
// session. It runs on its own schedule and never blocks transitions.
func (a *Accumulator) Flush(ctx context.Context) {
	start := time.Now()
	now := a.clock.Now()
	flushed, failed := 0, 0
	for _, e := range a.entries() {
		wrote, err := a.flushEntry(ctx, e, now)
		if err != nil {
			failed++
			a.logger.Error().Err(err).Str("agent_id", e.agentID).Str("session_id", e.sessionID).Msg("flush failed")
			continue
		}
		if wrote {
			flushed++
		}
	}
	if a.metrics != nil {
		a.metrics.RecordFlush(time.Since(start), flushed, failed)
	}
	if flushed > 0 || failed > 0 {
		a.logger.Debug().Int("flushed", flushed).Int("failed", failed).Msg("flush cycle complete")
	}
}

func (a *Accumulator) flushEntry(ctx context.Context, e *agentEntry, now time.Time) (bool, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	total := e.total(now)
	delta := total.Sub(e.flushed)
	if delta.IsZero() {
		return false, nil
	}
	if err := a.store.AddSessionTotals(ctx, e.sessionID, delta); err != nil {
		return false, err
	}
	e.flushed = total
	return true, nil
}

// FlushAgent is the final flush before a session closes. Time after at is
// not attributed unless Resume is called.
func (a *Accumulator) FlushAgent(ctx context.Context, agentID string, at time.Time) error {
	e := a.get(agentID)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	e.advance(at)
	e.stopAt = at
	e.mu.Unlock()

	a.pushToCache(ctx, e, at)
	if _, err := a.flushEntry(ctx, e, at); err != nil {
		return err
	}
	return nil
}

// CurrentMetrics returns today's counters from the cache. A missing entry is
// rebuilt from the durable store; an unreachable cache yields the last known
// value marked stale.
func (a *Accumulator) CurrentMetrics(ctx context.Context, agentID string) (types.MetricsSnapshot, error) {
	now := a.clock.Now()
	date := cache.DateOf(now)

	snap, err := a.cache.Get(ctx, agentID, date)
	if err != nil {
		a.cacheError("get", agentID, err)
		return a.degraded(ctx, agentID, now)
	}
	if snap != nil {
		a.setKnown(*snap)
		return *snap, nil
	}

	if e := a.get(agentID); e != nil {
		e.cacheMu.Lock()
		defer e.cacheMu.Unlock()
		rebuilt, err := a.reseed(ctx, e, now, e.total(now))
		if err != nil {
			return types.MetricsSnapshot{}, apperr.Wrap(apperr.KindStoreUnavailable, "getCurrentMetrics", agentID, err)
		}
		return rebuilt, nil
	}

	stored, err := a.store.SumSessionsSince(ctx, agentID, cache.DayStart(now))
	if err != nil {
		return types.MetricsSnapshot{}, apperr.Wrap(apperr.KindStoreUnavailable, "getCurrentMetrics", agentID, err)
	}
	stored = stored.Add(a.carriedOn(agentID, date))
	rebuilt := types.MetricsSnapshot{AgentID: agentID, Date: date, Counters: stored, LastTick: now}
	if err := a.cache.Set(ctx, rebuilt); err != nil {
		a.cacheError("set", agentID, err)
		rebuilt.Stale = true
	}
	a.setKnown(rebuilt)
	return rebuilt, nil
}

// degraded serves the last known value plus time not yet pushed to the cache
func (a *Accumulator) degraded(ctx context.Context, agentID string, now time.Time) (types.MetricsSnapshot, error) {
	date := cache.DateOf(now)

	a.knownMu.Lock()
	known, ok := a.lastKnown[agentID]
	a.knownMu.Unlock()

	if ok && known.Date == date {
		if e := a.get(agentID); e != nil {
			e.cacheMu.Lock()
			pending := e.total(now).Sub(e.cached)
			e.cacheMu.Unlock()
			known.Counters = known.Counters.Add(pending)
		}
		known.Stale = true
		return known, nil
	}

	dayStart := cache.DayStart(now)
	stored, err := a.store.SumSessionsSince(ctx, agentID, dayStart)
	if err != nil {
		return types.MetricsSnapshot{}, apperr.Wrap(apperr.KindCacheUnavailable, "getCurrentMetrics", agentID, err)
	}
	if e := a.get(agentID); e != nil {
		e.flushMu.Lock()
		stored = stored.Add(e.ownToday(e.total(now), dayStart))
		e.flushMu.Unlock()
	}
	stored = stored.Add(a.carriedOn(agentID, date))
	return types.MetricsSnapshot{AgentID: agentID, Date: date, Counters: stored, LastTick: now, Stale: true}, nil
}

func (a *Accumulator) setKnown(snap types.MetricsSnapshot) {
	snap.Stale = false
	a.knownMu.Lock()
	a.lastKnown[snap.AgentID] = snap
	a.knownMu.Unlock()
}

func (a *Accumulator) addKnown(agentID, date string, delta types.Counters, at time.Time) {
	a.knownMu.Lock()
	defer a.knownMu.Unlock()
	known, ok := a.lastKnown[agentID]
	if !ok || known.Date != date {
		return
	}
	known.Counters = known.Counters.Add(delta)
	known.LastTick = at
	a.lastKnown[agentID] = known
}

func (a *Accumulator) cacheError(op, agentID string, err error) {
	if a.metrics != nil {
		a.metrics.RecordCacheError(op)
	}
	a.logger.Warn().Err(err).Str("op", op).Str("agent_id", agentID).Msg("metrics cache unavailable")
}
