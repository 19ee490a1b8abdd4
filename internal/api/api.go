// Package api exposes the presence operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Engine is the set of presence operations served by the handlers
type Engine interface {
	RegisterAgents(ctx context.Context, agents []types.Agent) error
	StartSession(ctx context.Context, req presence.SessionStart) (*types.WorkSessionRecord, error)
	EndSession(ctx context.Context, agentID, reason string) (*types.WorkSessionRecord, error)
	ChangeStatus(ctx context.Context, req presence.StatusChange) (*types.AgentStatusRecord, error)
	StartPause(ctx context.Context, agentID string, pauseType types.PauseType, reason string) (*types.PauseRecord, error)
	EndPause(ctx context.Context, agentID string, returnTo types.AgentStatus) (*types.PauseRecord, error)
	ApprovePause(ctx context.Context, agentID, supervisorID, notes string) (*types.PauseRecord, error)
	SetSessionScores(ctx context.Context, sessionID string, quality, satisfaction *float64) (*types.WorkSessionRecord, error)
	GetActiveSession(ctx context.Context, agentID string) (*types.WorkSessionRecord, error)
	GetCurrentMetrics(ctx context.Context, agentID string) (types.MetricsSnapshot, error)
	StatusReport(ctx context.Context, agentID string, since time.Time) (map[types.AgentStatus]int64, error)
	StatusHistory(ctx context.Context, agentID string, since time.Time, limit int) ([]types.AgentStatusRecord, error)
	SessionHistory(ctx context.Context, agentID string, limit int) ([]types.ArchivedSession, error)
}

// SnapshotSource returns the latest supervisor snapshot
type SnapshotSource interface {
	Snapshot() types.SupervisorSnapshot
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst and validates it. An empty body leaves dst untouched.
func decode(r *http.Request, v *validator.Validate, op string, dst interface{}) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindValidation, op, "", "invalid JSON: "+err.Error())
		}
	}
	if err := v.Struct(dst); err != nil {
		return apperr.FromValidation(op, "", err)
	}
	return nil
}

// authorize resolves the target agent from the URL and checks the caller may act on it
func authorize(w http.ResponseWriter, r *http.Request) (*auth.Claims, string, bool) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		apperr.WriteStatus(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "missing session", false)
		return nil, "", false
	}
	agentID := chi.URLParam(r, "agentId")
	if agentID == "" {
		apperr.WriteStatus(w, http.StatusBadRequest, string(apperr.KindValidation), "agentId is required", false)
		return nil, "", false
	}
	if !auth.CanActOn(claims, agentID) {
		apperr.WriteStatus(w, http.StatusForbidden, "forbidden", "cannot act on another agent", false)
		return nil, "", false
	}
	return claims, agentID, true
}

func parseSince(r *http.Request, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return def, nil
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindValidation, "parseSince", "", "since must be RFC3339")
	}
	return since.UTC(), nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, apperr.New(apperr.KindValidation, "parseLimit", "", "limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
