// Package auth extracts the acting principal from incoming requests. The
// audit subsystem treats identity as an external concern: it only needs a
// stable actor id to record on entries, and a reviewer role check for the
// lifecycle endpoints.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "audittrail.principal"

// Canonical role names.
const (
	RoleReviewer = "ComplianceReviewer"
	RoleAuditor  = "Auditor"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	// ID is the subject claim; recorded as the entry's actor.
	ID string

	// Roles derived from the token's "roles" claim.
	Roles []string
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FromContext returns the Principal stored in the request context, or nil.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKeyPrincipal).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a context carrying the principal; used by tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// Middleware validates a Bearer JWT (HMAC-SHA256, shared secret) and places
// the resulting Principal in the request context. With an empty secret the
// middleware is a pass-through and requests proceed unauthenticated; the
// recorder then attributes entries to the system actor.
func Middleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimSpace(authz[7:])

			p, err := parseToken(raw, secret)
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func parseToken(raw, secret string) (*Principal, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	p := &Principal{ID: sub}
	if rawRoles, ok := claims["roles"].([]interface{}); ok {
		for _, rr := range rawRoles {
			if s, ok := rr.(string); ok {
				p.Roles = append(p.Roles, s)
			}
		}
	}
	return p, nil
}

// RequireRole allows the request through only when a principal with the
// role is present. Installed on the lifecycle and verify endpoints in
// production deployments.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FromContext(r.Context()).HasRole(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
