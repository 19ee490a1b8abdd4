package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(Options{JWTSecret: secret}, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestValidateSession(t *testing.T) {
	v := newValidator(t)
	token, err := Sign(secret, "a1", types.RoleSupervisor, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateSession(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.AgentID)
	assert.Equal(t, types.RoleSupervisor, claims.Role)

	cached, err := v.ValidateSession(token)
	require.NoError(t, err)
	assert.Same(t, claims, cached)
}

func TestValidateSessionRejects(t *testing.T) {
	v := newValidator(t)
	wrongKey, _ := Sign("other-secret", "a1", types.RoleAgent, time.Hour)
	expired, _ := Sign(secret, "a1", types.RoleAgent, -time.Minute)
	noAgent, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "AGENTE"}).SignedString([]byte(secret))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong key", wrongKey},
		{"expired", expired},
		{"no agent", noAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateSession(tt.token)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
		})
	}
}

func TestCachedTokenExpires(t *testing.T) {
	v := newValidator(t)
	token, _ := Sign(secret, "a1", types.RoleAgent, time.Minute)
	_, err := v.ValidateSession(token)
	require.NoError(t, err)

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = v.ValidateSession(token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestExtractRole(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   types.Role
	}{
		{"explicit role", jwt.MapClaims{"role": "ADMIN"}, types.RoleAdmin},
		{"keycloak realm roles", jwt.MapClaims{"realm_access": map[string]interface{}{"roles": []interface{}{"agent", "supervisor"}}}, types.RoleSupervisor},
		{"cognito groups", jwt.MapClaims{"cognito:groups": []interface{}{"monti-admins"}}, types.RoleAdmin},
		{"default agent", jwt.MapClaims{}, types.RoleAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractRole(tt.claims))
		})
	}
}

func TestSkipAuth(t *testing.T) {
	v, err := NewValidator(Options{SkipAuth: true}, zerolog.Nop())
	require.NoError(t, err)

	claims, err := v.ValidateSession("")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, claims.Role)

	claims, err = v.ValidateSession("a7:SUPERVISOR")
	require.NoError(t, err)
	assert.Equal(t, "a7", claims.AgentID)
	assert.Equal(t, types.RoleSupervisor, claims.Role)

	claims, err = v.ValidateSession("a8")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAgent, claims.Role)
}

func TestNewValidatorRequiresMode(t *testing.T) {
	_, err := NewValidator(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v := newValidator(t)
	agentToken, _ := Sign(secret, "a1", types.RoleAgent, time.Hour)
	supToken, _ := Sign(secret, "s1", types.RoleSupervisor, time.Hour)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := GetUserFromContext(r.Context())
		w.Header().Set("X-Agent", claims.AgentID)
		w.WriteHeader(http.StatusNoContent)
	})
	open := Middleware(v)(ok)
	supervised := Middleware(v)(RequireSupervisor(ok))

	tests := []struct {
		name    string
		handler http.Handler
		path    string
		header  string
		want    int
	}{
		{"missing token", open, "/api/x", "", http.StatusUnauthorized},
		{"bearer header", open, "/api/x", "Bearer " + agentToken, http.StatusNoContent},
		{"query token", open, "/ws?token=" + agentToken, "", http.StatusNoContent},
		{"agent on supervisor route", supervised, "/api/x", "Bearer " + agentToken, http.StatusForbidden},
		{"supervisor route", supervised, "/api/x", "Bearer " + supToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	v := newValidator(t)
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCanActOn(t *testing.T) {
	assert.True(t, CanActOn(&Claims{AgentID: "a1", Role: types.RoleAgent}, "a1"))
	assert.False(t, CanActOn(&Claims{AgentID: "a1", Role: types.RoleAgent}, "a2"))
	assert.True(t, CanActOn(&Claims{AgentID: "s1", Role: types.RoleSupervisor}, "a2"))
}
