package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type forceStatusRequest struct {
	Status    types.AgentStatus `json:"status" validate:"required"`
	PauseType types.PauseType   `json:"pauseType"`
	Reason    string            `json:"reason" validate:"max=400"`
}

type approvePauseRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type sessionScoresRequest struct {
	QualityScore         *float64 `json:"qualityScore" validate:"omitempty,gte=0,lte=100"`
	CustomerSatisfaction *float64 `json:"customerSatisfaction" validate:"omitempty,gte=0,lte=5"`
}

// SupervisorHandler serves supervisor-only actions. Mount behind auth.RequireSupervisor.
type SupervisorHandler struct {
	engine    Engine
	snapshots SnapshotSource
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewSupervisorHandler creates a new SupervisorHandler
func NewSupervisorHandler(engine Engine, snapshots SnapshotSource, logger zerolog.Logger) *SupervisorHandler {
	return &SupervisorHandler{
		engine:    engine,
		snapshots: snapshots,
		validate:  apperr.NewValidator(),
		logger:    logger.With().Str("component", "supervisor").Logger(),
	}
}

// ForceStatus handles POST /api/supervisor/agents/{agentId}/status
func (h *SupervisorHandler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	claims, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req forceStatusRequest
	if err := decode(r, h.validate, "forceStatus", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	reason := "supervisor " + claims.AgentID
	if req.Reason != "" {
		reason += ": " + req.Reason
	}
	var meta types.Metadata
	if req.PauseType != "" {
		meta = types.Metadata{presence.MetadataPauseType: string(req.PauseType)}
	}

	rec, err := h.engine.ChangeStatus(r.Context(), presence.StatusChange{
		AgentID:   agentID,
		Status:    req.Status,
		Reason:    reason,
		Metadata:  meta,
		OriginIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Str("supervisor_id", claims.AgentID).
		Str("status", string(req.Status)).
		Msg("status forced by supervisor")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": rec})
}

// Logout handles POST /api/supervisor/agents/{agentId}/logout
func (h *SupervisorHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, agentID, ok := authorize(w, r)
	if !ok {
		return
	}

	session, err := h.engine.EndSession(r.Context(), agentID, presence.EndReasonSupervisor)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	h.logger.Info().
		Str("agent_id", agentID).
		Str("supervisor_id", claims.AgentID).
		Msg("agent logged out by supervisor")
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// ApprovePause handles POST /api/supervisor/agents/{agentId}/pause/approve
func (h *SupervisorHandler) ApprovePause(w http.ResponseWriter, r *http.Request) {
	claims, agentID, ok := authorize(w, r)
	if !ok {
		return
	}
	var req approvePauseRequest
	if err := decode(r, h.validate, "approvePause", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	pause, err := h.engine.ApprovePause(r.Context(), agentID, claims.AgentID, req.Notes)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pause": pause})
}

// SetSessionScores handles POST /api/supervisor/sessions/{sessionId}/scores
func (h *SupervisorHandler) SetSessionScores(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		apperr.WriteStatus(w, http.StatusBadRequest, string(apperr.KindValidation), "sessionId is required", false)
		return
	}
	var req sessionScoresRequest
	if err := decode(r, h.validate, "setSessionScores", &req); err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	session, err := h.engine.SetSessionScores(r.Context(), sessionID, req.QualityScore, req.CustomerSatisfaction)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

// Snapshot handles GET /api/supervisor/snapshot
func (h *SupervisorHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Snapshot()
	if snap.Agents == nil {
		snap.Agents = []types.SupervisorAgentView{}
	}
	writeJSON(w, http.StatusOK, snap)
}
