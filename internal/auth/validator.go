package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/dennisdiepolder/monti/presence/internal/apperr"
	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Claims is what a validated session token carries
type Claims struct {
	AgentID string     `json:"agentId"`
	Email   string     `json:"email,omitempty"`
	Name    string     `json:"name,omitempty"`
	Role    types.Role `json:"role"`
	Groups  []string   `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// Options configures token validation. Exactly one of JWTSecret or
// OIDCIssuer is used; SkipAuth accepts any token.
type Options struct {
	JWTSecret  string
	OIDCIssuer string
	SkipAuth   bool
	CacheSize  int
	CacheTTL   time.Duration
}

// Validator implements validateSession for the HTTP API and the realtime hub
type Validator struct {
	secret []byte
	jwks   keyfunc.Keyfunc
	skip   bool
	cache  *expirable.LRU[string, *Claims]
	now    func() time.Time
	logger zerolog.Logger
}

// NewValidator creates a validator. With an OIDC issuer the JWKS is fetched
// from the issuer's Keycloak certs endpoint.
func NewValidator(opts Options, logger zerolog.Logger) (*Validator, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	v := &Validator{
		secret: []byte(opts.JWTSecret),
		skip:   opts.SkipAuth,
		cache:  expirable.NewLRU[string, *Claims](opts.CacheSize, nil, opts.CacheTTL),
		now:    time.Now,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	switch {
	case opts.SkipAuth:
		v.logger.Warn().Msg("SKIP_AUTH enabled - bypassing authentication")
	case opts.OIDCIssuer != "":
		jwksURL := strings.TrimSuffix(opts.OIDCIssuer, "/") + "/protocol/openid-connect/certs"
		k, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create keyfunc: %w", err)
		}
		v.jwks = k
		v.logger.Info().Str("jwks_url", jwksURL).Msg("JWKS loaded")
	case opts.JWTSecret == "":
		return nil, fmt.Errorf("auth: one of JWT_SECRET, OIDC_ISSUER or SKIP_AUTH is required")
	}
	return v, nil
}

// ValidateSession resolves a token to the agent and role it belongs to.
// Every failure is Unauthorized.
func (v *Validator) ValidateSession(token string) (*Claims, error) {
	const op = "validateSession"
	if v.skip {
		return v.devClaims(token), nil
	}
	if token == "" {
		return nil, apperr.New(apperr.KindUnauthorized, op, "", "missing token")
	}

	if cached, ok := v.cache.Get(token); ok {
		if cached.ExpiresAt == nil || cached.ExpiresAt.After(v.now()) {
			return cached, nil
		}
		v.cache.Remove(token)
	}

	parsed, err := v.parse(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, op, "", err)
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, op, "", "invalid token claims")
	}

	claims := claimsFromMap(mapClaims)
	if claims.AgentID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, op, "", "token names no agent")
	}
	v.cache.Add(token, claims)
	return claims, nil
}

func (v *Validator) parse(token string) (*jwt.Token, error) {
	if v.jwks != nil {
		return jwt.Parse(token, v.jwks.Keyfunc,
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithTimeFunc(v.now))
	}
	return jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithTimeFunc(v.now))
}

// devClaims accepts an unverified JWT or a plain "agentId[:ROLE]" token.
// An empty token is an admin dev user.
func (v *Validator) devClaims(token string) *Claims {
	if token == "" {
		return &Claims{AgentID: "dev", Name: "Dev User", Role: types.RoleAdmin}
	}
	if parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
		if mapClaims, ok := parsed.Claims.(jwt.MapClaims); ok {
			if claims := claimsFromMap(mapClaims); claims.AgentID != "" {
				return claims
			}
		}
	}
	agentID, role, _ := strings.Cut(token, ":")
	claims := &Claims{AgentID: agentID, Role: types.RoleAgent}
	if r := normalizeRole(role); r != "" {
		claims.Role = r
	}
	return claims
}

func claimsFromMap(m jwt.MapClaims) *Claims {
	claims := &Claims{}
	claims.Email, _ = m["email"].(string)
	if name, ok := m["name"].(string); ok {
		claims.Name = name
	}

	switch {
	case stringClaim(m, "agentId") != "":
		claims.AgentID = stringClaim(m, "agentId")
	case stringClaim(m, "preferred_username") != "":
		claims.AgentID = stringClaim(m, "preferred_username")
	default:
		claims.AgentID = stringClaim(m, "sub")
	}
	claims.Subject = stringClaim(m, "sub")
	if claims.Name == "" {
		claims.Name = stringClaim(m, "preferred_username")
	}

	claims.Groups = extractGroups(m)
	claims.Role = extractRole(m)
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp
	}
	return claims
}

func stringClaim(m jwt.MapClaims, key string) string {
	s, _ := m[key].(string)
	return s
}

// extractRole reads the role from the role claim, Keycloak realm roles or
// Cognito groups, preferring the most privileged. Defaults to AGENTE.
func extractRole(m jwt.MapClaims) types.Role {
	if r := normalizeRole(stringClaim(m, "role")); r != "" {
		return r
	}

	var candidates []string
	if realmAccess, ok := m["realm_access"].(map[string]interface{}); ok {
		candidates = append(candidates, toStrings(realmAccess["roles"])...)
	}
	candidates = append(candidates, toStrings(m["cognito:groups"])...)
	candidates = append(candidates, toStrings(m["custom:groups"])...)

	best := types.RoleAgent
	for _, c := range candidates {
		switch normalizeRole(c) {
		case types.RoleAdmin:
			return types.RoleAdmin
		case types.RoleSupervisor:
			best = types.RoleSupervisor
		}
	}
	return best
}

// normalizeRole maps role spellings to a Role, or "" when unrecognised
func normalizeRole(s string) types.Role {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "admin"):
		return types.RoleAdmin
	case strings.Contains(s, "supervisor"):
		return types.RoleSupervisor
	case strings.Contains(s, "agent"):
		return types.RoleAgent
	}
	return ""
}

func extractGroups(m jwt.MapClaims) []string {
	groups := toStrings(m["groups"])
	return append(groups, toStrings(m["cognito:groups"])...)
}

func toStrings(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Sign issues an HMAC-signed session token. Used by dev tooling and tests.
func Sign(secret string, agentID string, role types.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"agentId": agentID,
		"role":    string(role),
		"sub":     agentID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
