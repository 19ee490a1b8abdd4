package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/accumulator"
	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/auth"
	"github.com/dennisdiepolder/monti/presence/internal/cache"
	"github.com/dennisdiepolder/monti/presence/internal/clock"
	"github.com/dennisdiepolder/monti/presence/internal/presence"
	"github.com/dennisdiepolder/monti/presence/internal/storage"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type staticSnapshots struct {
	snap types.SupervisorSnapshot
}

func (s staticSnapshots) Snapshot() types.SupervisorSnapshot { return s.snap }

type testServer struct {
	t      *testing.T
	clock  *clock.Fake
	engine *presence.Engine
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open("sqlite", dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := store.DB().DB(); err == nil {
			sqlDB.Close()
		}
	})

	clk := clock.NewFake(t0)
	acc := accumulator.New(store, cache.NewLocalCache(), clk, nil, accumulator.Options{}, zerolog.Nop())
	engine := presence.New(store, nil, acc, cache.NewStatusTable(), nil, clk,
		nil, presence.Options{LockTimeout: time.Second, ACWDuration: 30 * time.Second}, zerolog.Nop())

	validator, err := auth.NewValidator(auth.Options{SkipAuth: true}, zerolog.Nop())
	require.NoError(t, err)

	snaps := staticSnapshots{snap: types.SupervisorSnapshot{GeneratedAt: t0}}
	h := NewHandlers(engine, snaps, clk.Now, zerolog.Nop())

	r := chi.NewRouter()
	r.Route("/internal", h.MountInternal)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(validator))
		r.Route("/api", h.Mount)
	})

	s := &testServer{t: t, clock: clk, engine: engine, router: r}
	res := s.do(http.MethodPost, "/internal/agents/roster", "", `{"agents":[
		{"agentId":"a1","displayName":"Ana","campaignId":"c1"},
		{"agentId":"a2","displayName":"Ben","campaignId":"c2"}]}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	return s
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperr.Body
	decodeBody(t, rec, &body)
	return body.Error.Code
}

func TestActiveSessionNullWhenLoggedOut(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodGet, "/api/agents/a1/session", "a1", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"session":null}`, res.Body.String())

	res = s.do(http.MethodGet, "/api/agents/ghost/session", "ghost", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, string(apperr.KindAgentNotFound), errorCode(t, res))
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/api/agents/a1/session", "a1", `{"campaignId":"c1","loginType":"web"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var started struct {
		Session types.WorkSessionRecord `json:"session"`
	}
	decodeBody(t, res, &started)
	assert.True(t, started.Session.IsActive)

	s.clock.Advance(10 * time.Second)
	res = s.do(http.MethodPost, "/api/agents/a1/pause", "a1", `{"pauseType":"lunch","reason":"noon"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var paused struct {
		Pause types.PauseRecord `json:"pause"`
	}
	decodeBody(t, res, &paused)
	assert.Equal(t, types.PauseLunch, paused.Pause.PauseType)

	s.clock.Advance(20 * time.Second)
	res = s.do(http.MethodDelete, "/api/agents/a1/pause", "a1", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = s.do(http.MethodDelete, "/api/agents/a1/pause", "a1", "")
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, string(apperr.KindNoActivePause), errorCode(t, res))

	res = s.do(http.MethodPost, "/api/agents/a1/status", "a1", `{"status":"training"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var changed struct {
		Status types.AgentStatusRecord `json:"status"`
	}
	decodeBody(t, res, &changed)
	assert.Equal(t, types.StatusTraining, changed.Status.Status)

	res = s.do(http.MethodGet, "/api/agents/a1/metrics", "a1", "")
	require.Equal(t, http.StatusOK, res.Code)

	s.clock.Advance(5 * time.Second)
	res = s.do(http.MethodDelete, "/api/agents/a1/session", "a1", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var ended struct {
		Session types.WorkSessionRecord `json:"session"`
	}
	decodeBody(t, res, &ended)
	assert.False(t, ended.Session.IsActive)
	require.NotNil(t, ended.Session.TotalDurationSeconds)
	assert.Equal(t, int64(35), *ended.Session.TotalDurationSeconds)

	res = s.do(http.MethodGet, "/api/agents/a1/report?since="+t0.Format(time.RFC3339), "a1", "")
	require.Equal(t, http.StatusOK, res.Code)
	var report struct {
		Durations map[types.AgentStatus]int64 `json:"durations"`
	}
	decodeBody(t, res, &report)
	assert.Equal(t, int64(10), report.Durations[types.StatusAvailable])
	assert.Equal(t, int64(20), report.Durations[types.StatusOnPause])
	assert.Equal(t, int64(5), report.Durations[types.StatusTraining])

	res = s.do(http.MethodGet, "/api/agents/a1/statuses", "a1", "")
	require.Equal(t, http.StatusOK, res.Code)
	var statuses []types.AgentStatusRecord
	decodeBody(t, res, &statuses)
	assert.NotEmpty(t, statuses)

	res = s.do(http.MethodGet, "/api/agents/a1/history", "a1", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, res.Body.String())
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/agents/a1/session", "a1", "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing status", http.MethodPost, "/api/agents/a1/status", `{}`, http.StatusBadRequest, "validation"},
		{"unknown status", http.MethodPost, "/api/agents/a1/status", `{"status":"napping"}`, http.StatusBadRequest, "validation"},
		{"unknown field", http.MethodPost, "/api/agents/a1/status", `{"status":"training","color":"red"}`, http.StatusBadRequest, "validation"},
		{"broken json", http.MethodPost, "/api/agents/a1/pause", `{"pauseType":`, http.StatusBadRequest, "validation"},
		{"missing pause type", http.MethodPost, "/api/agents/a1/pause", `{}`, http.StatusBadRequest, "validation"},
		{"other agent", http.MethodPost, "/api/agents/a2/session", `{"loginType":"web"}`, http.StatusForbidden, "forbidden"},
		{"end pause into offline", http.MethodDelete, "/api/agents/a1/pause", `{"returnTo":"offline"}`, http.StatusConflict, "invalid_transition"},
		{"bad since", http.MethodGet, "/api/agents/a1/report?since=yesterday", "", http.StatusBadRequest, "validation"},
		{"bad limit", http.MethodGet, "/api/agents/a1/statuses?limit=-3", "", http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.do(tt.method, tt.path, "a1", tt.body)
			assert.Equal(t, tt.status, res.Code, res.Body.String())
			assert.Equal(t, tt.code, errorCode(t, res))
		})
	}
}

func TestAgentCannotActOnOthers(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/api/agents/a2/session", "a1", "")
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(http.MethodPost, "/api/agents/a2/session", "sup:SUPERVISOR", "")
	assert.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = s.do(http.MethodGet, "/api/supervisor/snapshot", "a1", "")
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestSupervisorActions(t *testing.T) {
	s := newTestServer(t)
	const sup = "sup:SUPERVISOR"

	res := s.do(http.MethodPost, "/api/agents/a1/session", "a1", "")
	require.Equal(t, http.StatusOK, res.Code)
	var started struct {
		Session types.WorkSessionRecord `json:"session"`
	}
	decodeBody(t, res, &started)

	res = s.do(http.MethodPost, "/api/supervisor/agents/a1/status", sup, `{"status":"on_pause","pauseType":"coaching"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var forced struct {
		Status types.AgentStatusRecord `json:"status"`
	}
	decodeBody(t, res, &forced)
	assert.Equal(t, types.StatusOnPause, forced.Status.Status)
	assert.Contains(t, forced.Status.Reason, "supervisor sup")

	res = s.do(http.MethodPost, "/api/supervisor/agents/a1/pause/approve", sup, `{"notes":"ok"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var approved struct {
		Pause types.PauseRecord `json:"pause"`
	}
	decodeBody(t, res, &approved)
	assert.True(t, approved.Pause.SupervisorApproved)
	assert.Equal(t, types.PauseCoaching, approved.Pause.PauseType)
	require.NotNil(t, approved.Pause.SupervisorID)
	assert.Equal(t, "sup", *approved.Pause.SupervisorID)

	s.clock.Advance(time.Minute)
	res = s.do(http.MethodPost, "/api/supervisor/agents/a1/logout", sup, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var ended struct {
		Session types.WorkSessionRecord `json:"session"`
	}
	decodeBody(t, res, &ended)
	assert.Equal(t, presence.EndReasonSupervisor, ended.Session.EndReason)

	path := "/api/supervisor/sessions/" + started.Session.ID + "/scores"
	res = s.do(http.MethodPost, path, sup, `{"qualityScore":120}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(http.MethodPost, path, sup, `{"qualityScore":88.5,"customerSatisfaction":4}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var scored struct {
		Session types.WorkSessionRecord `json:"session"`
	}
	decodeBody(t, res, &scored)
	require.NotNil(t, scored.Session.QualityScore)
	assert.Equal(t, 88.5, *scored.Session.QualityScore)

	res = s.do(http.MethodGet, "/api/supervisor/snapshot", sup, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"generatedAt":"2026-03-02T09:00:00Z","agents":[]}`, res.Body.String())
}

func TestRosterValidation(t *testing.T) {
	s := newTestServer(t)

	res := s.do(http.MethodPost, "/internal/agents/roster", "", `{"agents":[]}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(http.MethodPost, "/internal/agents/roster", "", `{"agents":[{"displayName":"no id"}]}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(http.MethodPost, "/internal/agents/roster", "", `{"agents":[{"agentId":"a3","campaignId":"c1"}]}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"registered":1}`, res.Body.String())

	session, err := s.engine.GetActiveSession(context.Background(), "a3")
	require.NoError(t, err)
	assert.Nil(t, session)
}
