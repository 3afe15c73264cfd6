package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/service"
)

type contextKey string

const (
	claimsKey    contextKey = "claims"
	principalKey contextKey = "principal"
)

// TokenValidator parses access tokens. Satisfied by *auth.Issuer.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// PrincipalLoader loads the current principal of a user.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id uuid.UUID) (*authz.Principal, error)
}

// Authenticate validates the bearer token and loads the principal from the
// user store, so role and permission edits apply on the next request.
func Authenticate(tokens TokenValidator, principals PrincipalLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
				return
			}

			claims, err := tokens.Validate(parts[1])
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			principal, err := principals.LoadPrincipal(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "user not found"})
					return
				}
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
				return
			}
			if !principal.IsActive {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "account is inactive", "reason": string(authz.ReasonUnauthenticated)})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = context.WithValue(ctx, principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess runs the authorization gate before the handler. When the
// route has a {rid} parameter the requirement is scoped to that restaurant.
func RequireAccess(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scoped := req
			if ridStr := chi.URLParam(r, "rid"); ridStr != "" {
				rid, err := uuid.Parse(ridStr)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
					return
				}
				scoped = req.ForRestaurant(rid)
			}

			decision := authz.Authorize(PrincipalFromContext(r.Context()), scoped)
			if !decision.Allowed {
				WriteDenied(w, decision.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole is RequireAccess with only a role requirement.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return RequireAccess(authz.Requirement{Roles: roles})
}

// WriteDenied writes the response for a gate denial.
func WriteDenied(w http.ResponseWriter, reason authz.Reason) {
	status := http.StatusForbidden
	msg := "insufficient permissions"
	switch reason {
	case authz.ReasonUnauthenticated:
		status, msg = http.StatusUnauthorized, "not authenticated"
	case authz.ReasonTenantMismatch:
		msg = "access denied for this restaurant"
	}
	writeJSON(w, status, map[string]string{"error": msg, "reason": string(reason)})
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *authz.Principal {
	p, _ := ctx.Value(principalKey).(*authz.Principal)
	return p
}

// WithPrincipal stores p in ctx. Used by tests and internal callers.
func WithPrincipal(ctx context.Context, p *authz.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
