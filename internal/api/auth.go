package api

import (
	"context"
	"net/http"
	"strings"

	"guardwatch/internal/auth"
)

type ctxKeyPrincipal struct{}

// principalFrom resolves the caller. Tokens come from "Authorization: Bearer" or the
// "token" query parameter (browsers cannot set headers on WebSocket upgrades).
// In dev mode a request without a token may use X-Role / X-Guard-Id headers.
func (s *Server) principalFrom(r *http.Request) (auth.Principal, error) {
	tok := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	}
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" && s.Auth.Mode == "dev" {
		role := r.Header.Get("X-Role")
		if role == "" {
			role = auth.RoleAdmin
		}
		if g := r.Header.Get("X-Guard-Id"); g != "" {
			role += ":" + g
		}
		tok = role
	}
	return s.Auth.Verify(tok)
}

// authenticate rejects requests without a valid principal and stores it in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.principalFrom(r)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, p)))
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// canViewGuard reports whether p may read data about guardID.
func canViewGuard(p auth.Principal, guardID string) bool {
	if p.CanCommand() {
		return true
	}
	return p.Role == auth.RoleGuard && p.GuardID == guardID
}
