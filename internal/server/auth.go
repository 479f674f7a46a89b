package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// PermissionOverride allows admitting a failing dataset.
const PermissionOverride = "quality.override"

// AuthConfig enables bearer JWT authentication when JWTSecret is set. With no secret
// every request is accepted.
type AuthConfig struct {
	JWTSecret string
	Logger    *slog.Logger
}

func (c AuthConfig) Enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

type Principal struct {
	Subject     string
	Roles       []string
	Permissions []string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{
		Subject:     claims.Subject,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requirePermission passes when auth is disabled, or when the principal carries perm
// directly or through the admin role.
func requirePermission(ctx context.Context, cfg AuthConfig, perm string) huma.StatusError {
	if !cfg.Enabled() {
		return nil
	}
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	for _, have := range p.Permissions {
		if have == perm {
			return nil
		}
	}
	for _, role := range p.Roles {
		if role == "admin" {
			return nil
		}
	}
	return newAPIError(http.StatusForbidden, "forbidden", "missing permission "+perm, map[string]any{"permission": perm})
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !cfg.Enabled() {
				next.ServeHTTP(w, req)
				return
			}
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Debug("rejected bearer token", "error", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
