package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type startSessionRequest struct {
	CampaignID string `json:"campaignId" validate:"max=100"`
	LoginType  string `json:"loginType" validate:"omitempty,oneof=web softphone supervisor api"`
}

type endSessionRequest struct {
	Reason string `json:"reason" validate:"max=100"`
}

type changeStatusRequest struct {
	Status   types.AgentStatus `json:"status" validate:"required"`
	Reason   string            `json:"reason" validate:"max=500"`
	Metadata types.Metadata    `json:"metadata"`
}

type startPauseRequest struct {
	PauseType types.PauseType `json:"pauseType" validate:"required"`
	Reason    string          `json:"reason" validate:"max=500"`
}

type endPauseRequest struct {
	ReturnTo types.AgentStatus `json:"returnTo"`
}

// AgentActionsHandler serves the operations an agent performs on itself.
// Supervisors may call them for any agent.
type AgentActionsHandler struct {
	engine   Engine
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(engine Engine, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		engine:   engine,
		validate: apperr.NewValidator(),
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// StartSession handles POST /api/agents/{agentId}/session
func (h *AgentActionsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := decode(r, h.validate, "startSession", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	session, err := h.engine.StartSession(r.Context(), presence.SessionStart{
		AgentID:    agentID,
		CampaignID: req.CampaignID,
		LoginType:  req.LoginType,
		OriginIP:   clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// EndSession handles DELETE /api/agents/{agentId}/session
func (h *AgentActionsHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req endSessionRequest
	if err := decode(r, h.validate, "endSession", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	session, err := h.engine.EndSession(r.Context(), agentID, req.Reason)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// ChangeStatus handles POST /api/agents/{agentId}/status
func (h *AgentActionsHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := decode(r, h.validate, "changeStatus", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	rec, err := h.engine.ChangeStatus(r.Context(), presence.StatusChange{
		AgentID:   agentID,
		Status:    req.Status,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
		OriginIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": rec})
}

// StartPause handles POST /api/agents/{agentId}/pause
func (h *AgentActionsHandler) StartPause(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req startPauseRequest
	if err := decode(r, h.validate, "startPause", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	pause, err := h.engine.StartPause(r.Context(), agentID, req.PauseType, req.Reason)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pause": pause})
}

// EndPause handles DELETE /api/agents/{agentId}/pause
func (h *AgentActionsHandler) EndPause(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req endPauseRequest
	if err := decode(r, h.validate, "endPause", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	pause, err := h.engine.EndPause(r.Context(), agentID, req.ReturnTo)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pause": pause})
}

// GetActiveSession handles GET /api/agents/{agentId}/session. A logged-out
// agent gets {"session": null} with 200.
func (h *AgentActionsHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	session, err := h.engine.GetActiveSession(r.Context(), agentID)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// GetCurrentMetrics handles GET /api/agents/{agentId}/metrics
func (h *AgentActionsHandler) GetCurrentMetrics(w http.ResponseWriter, r *http.Request) {
	_, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	snap, err := h.engine.GetCurrentMetrics(r.Context(), agentID)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
