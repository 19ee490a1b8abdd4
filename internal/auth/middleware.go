package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dennisdiepolder/monti/presence/internal/apperr"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionValidator is implemented by Validator
type SessionValidator interface {
	ValidateSession(token string) (*Claims, error)
}

// Middleware validates the session token on every request except /health and /metrics
func Middleware(v SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := v.ValidateSession(ExtractToken(r))
			if err != nil {
				apperr.WriteHTTP(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireSupervisor rejects requests from AGENTE sessions with 403
func RequireSupervisor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok {
			apperr.WriteStatus(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "missing session", false)
			return
		}
		if !claims.Role.IsSupervisor() {
			apperr.WriteStatus(w, http.StatusForbidden, "forbidden", "supervisor role required", false)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractToken gets the token from the Authorization header or the token
// query parameter (for WebSocket connections)
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}
	return r.URL.Query().Get("token")
}

// WithClaims stores claims on the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}

// CanActOn reports whether the session may operate on agentID
func CanActOn(claims *Claims, agentID string) bool {
	return claims.Role.IsSupervisor() || claims.AgentID == agentID
}
