package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// RosterEntry represents a single agent in the roster payload
type RosterEntry struct {
	AgentID     string `json:"agentId" validate:"required,max=100"`
	DisplayName string `json:"displayName" validate:"max=200"`
	CampaignID  string `json:"campaignId" validate:"max=100"`
	Team        string `json:"team" validate:"max=100"`
}

type rosterRequest struct {
	Agents []RosterEntry `json:"agents" validate:"required,min=1,dive"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	engine   Engine
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(engine Engine, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		engine:   engine,
		validate: apperr.NewValidator(),
		logger:   logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := decode(r, h.validate, "roster", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	agents := make([]types.Agent, 0, len(req.Agents))
	for _, entry := range req.Agents {
		agents = append(agents, types.Agent{
			AgentID:     entry.AgentID,
			DisplayName: entry.DisplayName,
			CampaignID:  entry.CampaignID,
			Team:        entry.Team,
		})
	}
	if err := h.engine.RegisterAgents(r.Context(), agents); err != nil {
		h.logger.Error().Err(err).Msg("failed to register roster")
		apperr.WriteHTTP(w, err)
		return
	}

	h.logger.Info().Int("registered", len(agents)).Msg("roster received")
	writeJSON(w, http.StatusOK, map[string]int{"registered": len(agents)})
}
