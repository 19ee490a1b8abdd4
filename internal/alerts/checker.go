// Package alerts evaluates long-pause rules against active pauses
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// DefaultThresholds is how long each pause type may run before an alert
var DefaultThresholds = map[types.PauseType]time.Duration{
	types.PauseBathroom:    10 * time.Minute,
	types.PauseBreak:       15 * time.Minute,
	types.PauseLunch:       60 * time.Minute,
	types.PauseCoaching:    30 * time.Minute,
	types.PauseSystemIssue: 15 * time.Minute,
	types.PausePersonal:    10 * time.Minute,
}

// PauseStore is the slice of the durable store the checker needs
type PauseStore interface {
	ListActivePauses(ctx context.Context) ([]types.PauseRecord, error)
	MarkPauseAlertSent(ctx context.Context, pauseID string) (bool, error)
}

// Publisher receives long-pause alerts
type Publisher interface {
	PublishAgentEvent(agentID, campaignID string, msg types.ServerMessage)
}

// CampaignLookup resolves an agent's campaign for event filtering
type CampaignLookup func(agentID string) string

// Recorder counts emitted alerts
type Recorder interface {
	RecordPauseAlert()
}

// Checker emits one pause:long_alert per pause that outlives its threshold
type Checker struct {
	store      PauseStore
	pub        Publisher
	campaignOf CampaignLookup
	recorder   Recorder
	thresholds map[types.PauseType]time.Duration
	logger     zerolog.Logger
}

// NewChecker creates a checker. A positive override replaces every
// per-type threshold.
func NewChecker(store PauseStore, pub Publisher, campaignOf CampaignLookup, recorder Recorder, override time.Duration, logger zerolog.Logger) *Checker {
	thresholds := make(map[types.PauseType]time.Duration, len(DefaultThresholds))
	for pt, d := range DefaultThresholds {
		if override > 0 {
			d = override
		}
		thresholds[pt] = d
	}
	if campaignOf == nil {
		campaignOf = func(string) string { return "" }
	}
	return &Checker{
		store:      store,
		pub:        pub,
		campaignOf: campaignOf,
		recorder:   recorder,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "alerts").Logger(),
	}
}

// Threshold returns the alert threshold for a pause type
func (c *Checker) Threshold(pt types.PauseType) time.Duration {
	if d, ok := c.thresholds[pt]; ok {
		return d
	}
	return DefaultThresholds[types.PauseBreak]
}

// Check evaluates every active pause at now and returns the alerts emitted
func (c *Checker) Check(ctx context.Context, now time.Time) ([]types.PauseLongAlert, error) {
	pauses, err := c.store.ListActivePauses(ctx)
	if err != nil {
		return nil, err
	}

	var emitted []types.PauseLongAlert
	for _, p := range pauses {
		if p.AlertSent {
			continue
		}
		threshold := c.Threshold(p.PauseType)
		elapsed := now.Sub(p.StartTime)
		if elapsed < threshold {
			continue
		}

		// the conditional update decides which sweep owns the alert
		won, err := c.store.MarkPauseAlertSent(ctx, p.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("agent_id", p.AgentID).Str("pause_id", p.ID).Msg("failed to mark pause alert")
			continue
		}
		if !won {
			continue
		}

		alert := types.PauseLongAlert{
			AgentID:          p.AgentID,
			PauseID:          p.ID,
			PauseType:        p.PauseType,
			ElapsedSeconds:   int64(elapsed / time.Second),
			ThresholdSeconds: int64(threshold / time.Second),
			CampaignID:       c.campaignOf(p.AgentID),
		}
		c.pub.PublishAgentEvent(p.AgentID, alert.CampaignID, alert)
		if c.recorder != nil {
			c.recorder.RecordPauseAlert()
		}
		c.logger.Info().
			Str("agent_id", p.AgentID).
			Str("pause_type", string(p.PauseType)).
			Msg(fmt.Sprintf("%s pause for %s", p.PauseType, formatDuration(elapsed)))
		emitted = append(emitted, alert)
	}
	return emitted, nil
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
