// Package auth verifies channel tokens and decides room membership.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"guardwatch/internal/config"
	"guardwatch/internal/model"
)

// Roles
const (
	RoleAdmin        = model.RoleAdmin
	RoleFieldOfficer = model.RoleFieldOfficer
	RoleGuard        = model.RoleGuard
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the authenticated identity behind a connection.
type Principal struct {
	Subject string
	Role    string
	GuardID string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanJoin reports whether the principal may receive events of room.
func (p Principal) CanJoin(room string) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleFieldOfficer:
		if room == model.RoomFieldOfficers {
			return true
		}
		_, ok := model.GuardFromRoom(room)
		return ok
	case RoleGuard:
		if room == model.RoomGuards {
			return true
		}
		id, ok := model.GuardFromRoom(room)
		return ok && p.GuardID != "" && id == p.GuardID
	}
	return false
}

// CanCommand reports whether the principal may issue admin commands and notifications.
func (p Principal) CanCommand() bool {
	return p.Role == RoleAdmin || p.Role == RoleFieldOfficer
}

// Verifier validates bearer tokens.
// Modes: dev (token "role" or "role:guardId", no signature) and hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	secret     []byte
	roleClaim  string
	guardClaim string
}

// NewVerifier builds a Verifier from auth configuration.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	v := &Verifier{Mode: mode, secret: []byte(cfg.HMACSecret), roleClaim: cfg.RoleClaim, guardClaim: cfg.GuardClaim}
	if v.roleClaim == "" {
		v.roleClaim = "role"
	}
	if v.guardClaim == "" {
		v.guardClaim = "guardId"
	}
	return v
}

// Verify checks the token and extracts the principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	if v.Mode == "dev" {
		role, guard, _ := strings.Cut(token, ":")
		return normalize(Principal{Subject: guard, Role: role, GuardID: guard})
	}
	if v.Mode != "hmac" {
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	sub, _ := claims.GetSubject()
	role, _ := claims[v.roleClaim].(string)
	guard, _ := claims[v.guardClaim].(string)
	return normalize(Principal{Subject: sub, Role: role, GuardID: guard})
}

func normalize(p Principal) (Principal, error) {
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	p.Role = strings.ReplaceAll(p.Role, "-", "_")
	switch p.Role {
	case RoleAdmin, RoleFieldOfficer:
	case RoleGuard:
		if p.GuardID == "" {
			return Principal{}, fmt.Errorf("%w: guard token without guard id", ErrUnauthenticated)
		}
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, p.Role)
	}
	return p, nil
}
