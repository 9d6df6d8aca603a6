// Package auth issues and verifies the signed session tokens that gate the
// admin API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/config"
)

type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

// AdminRoles may read and manage orders.
var AdminRoles = []Role{RoleAdmin, RoleSuperAdmin}

// ParseRole accepts a role name in any case.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return r, true
	default:
		return "", false
	}
}

// IsAdmin reports whether r is one of AdminRoles.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

var (
	ErrInvalidToken = apperr.New(apperr.ErrAuthorization, "invalid or expired session")
	ErrForbidden    = apperr.New(apperr.ErrAuthorization, "insufficient permissions")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID `json:"id"`
	Login  string    `json:"login"`
	Role   Role      `json:"role"`
}

type claims struct {
	Role  Role   `json:"role"`
	Login string `json:"login"`
	jwt.RegisteredClaims
}

// RoleResolver reports the role an account holds right now.
type RoleResolver interface {
	CurrentRole(ctx context.Context, userID uuid.UUID) (Role, error)
}

type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	roles  RoleResolver
}

func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(cfg.JWTSecret), ttl: ttl, now: time.Now}
}

// ResolveRolesWith makes Require check the account's stored role on every
// request instead of the role frozen in the token, so deleted or demoted
// accounts lose access before their token expires.
func (m *TokenManager) ResolveRolesWith(r RoleResolver) {
	m.roles = r
}

// Issue signs an HS256 token for id and returns it with its expiry.
func (m *TokenManager) Issue(id Identity) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  id.Role,
		Login: id.Login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the signature and expiry of raw and returns its identity.
func (m *TokenManager) Parse(raw string) (*Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.FromString(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	role, ok := ParseRole(string(c.Role))
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}

	return &Identity{UserID: id, Login: c.Login, Role: role}, nil
}
