// Package scheduler owns the engine's periodic work: fixed-interval loops
// driven by the injectable clock and cron jobs for slower sweeps.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of scheduled work. It receives the scheduler's context.
type Job func(ctx context.Context)

type loop struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler runs loops and cron jobs between Start and Stop
type Scheduler struct {
	clock  clock.Clock
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	loops   []loop
	jobs    map[string]cron.EntryID
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	started bool
}

// New creates a stopped scheduler
func New(clk clock.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clk,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]cron.EntryID),
	}
}

// Every registers a loop that runs job once per interval. Register before Start.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: %s interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: cannot add %s after start", name)
	}
	s.loops = append(s.loops, loop{name: name, interval: interval, job: job})
	return nil
}

// Cron registers a job on a cron spec such as "@every 30s" or "*/5 * * * *"
func (s *Scheduler) Cron(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job %s already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.run(ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid spec %q for %s: %w", spec, name, err)
	}
	s.jobs[name] = id
	return nil
}

// Jobs returns the names of the registered cron jobs
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Start launches every loop and the cron runner
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, l := range s.loops {
		s.wg.Add(1)
		go s.runLoop(s.ctx, l)
	}
	s.cron.Start()
	s.logger.Info().Int("loops", len(s.loops)).Int("cron_jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels every loop and waits for running jobs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, l loop) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(l.interval)
	defer ticker.Stop()

	s.logger.Debug().Str("loop", l.name).Dur("interval", l.interval).Msg("loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("loop", l.name).Msg("loop stopped")
			return
		case <-ticker.C():
			s.run(ctx, l.name, l.job)
		}
	}
}

// run executes one job, turning a panic into a log line so the loop survives
func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job", name).Interface("panic", r).Msg("scheduled job panicked")
		}
	}()
	job(ctx)
}
