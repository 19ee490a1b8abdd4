package api

import (
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers groups every REST handler
type Handlers struct {
	Roster     *RosterHandler
	Agents     *AgentActionsHandler
	History    *AgentHistoryHandler
	Supervisor *SupervisorHandler
}

// NewHandlers builds all handlers over one engine
func NewHandlers(engine Engine, snapshots SnapshotSource, now func() time.Time, logger zerolog.Logger) *Handlers {
	return &Handlers{
		Roster:     NewRosterHandler(engine, logger),
		Agents:     NewAgentActionsHandler(engine, logger),
		History:    NewAgentHistoryHandler(engine, now, logger),
		Supervisor: NewSupervisorHandler(engine, snapshots, logger),
	}
}

// MountInternal registers the service-to-service routes under /internal
func (h *Handlers) MountInternal(r chi.Router) {
	r.Post("/agents/roster", h.Roster.HandleRoster)
}

// Mount registers the session-authenticated routes under /api
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/agents/{agentId}", func(r chi.Router) {
		r.Get("/session", h.Agents.GetActiveSession)
		r.Post("/session", h.Agents.StartSession)
		r.Delete("/session", h.Agents.EndSession)
		r.Post("/status", h.Agents.ChangeStatus)
		r.Post("/pause", h.Agents.StartPause)
		r.Delete("/pause", h.Agents.EndPause)
		r.Get("/metrics", h.Agents.GetCurrentMetrics)
		r.Get("/report", h.History.GetReport)
		r.Get("/history", h.History.GetHistory)
		r.Get("/statuses", h.History.GetStatuses)
	})

	r.Route("/supervisor", func(r chi.Router) {
		r.Use(auth.RequireSupervisor)
		r.Get("/snapshot", h.Supervisor.Snapshot)
		r.Post("/agents/{agentId}/status", h.Supervisor.ForceStatus)
		r.Post("/agents/{agentId}/logout", h.Supervisor.Logout)
		r.Post("/agents/{agentId}/pause/approve", h.Supervisor.ApprovePause)
		r.Post("/sessions/{sessionId}/scores", h.Supervisor.SetSessionScores)
	})
}
