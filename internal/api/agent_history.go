package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
)

// AgentHistoryHandler provides REST endpoints for agent history data
type AgentHistoryHandler struct {
	engine Engine
	now    func() time.Time
	logger zerolog.Logger
}

// NewAgentHistoryHandler creates a new AgentHistoryHandler
func NewAgentHistoryHandler(engine Engine, now func() time.Time, logger zerolog.Logger) *AgentHistoryHandler {
	if now == nil {
		now = time.Now
	}
	return &AgentHistoryHandler{
		engine: engine,
		now:    now,
		logger: logger.With().Str("component", "agent_history_handler").Logger(),
	}
}

// GetReport returns seconds per status since the given time (default: start of today)
// GET /api/agents/{agentId}/report?since=RFC3339
func (h *AgentHistoryHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, cache.DayStart(h.now()))
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	report, err := h.engine.StatusReport(r.Context(), agentID, since)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to build status report")
		apperr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agentId":   agentID,
		"since":     since,
		"durations": report,
	})
}

// GetHistory returns archived closed sessions for the given agent
// GET /api/agents/{agentId}/history?limit=N
func (h *AgentHistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	sessions, err := h.engine.SessionHistory(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to get session history")
		apperr.WriteHTTP(w, err)
		return
	}
	if sessions == nil {
		sessions = []types.ArchivedSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetStatuses returns status records started since the given time
// GET /api/agents/{agentId}/statuses?since=RFC3339&limit=N
func (h *AgentHistoryHandler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r, cache.DayStart(h.now()))
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	records, err := h.engine.StatusHistory(r.Context(), agentID, since, limit)
	if err != nil {
		h.logger.Error().Err(err).
			Str("agent_id", agentID).
			Time("since", since).
			Msg("failed to get status history")
		apperr.WriteHTTP(w, err)
		return
	}
	if records == nil {
		records = []types.AgentStatusRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
