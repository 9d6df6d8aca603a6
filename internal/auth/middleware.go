package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
)

// SessionCookie carries the token for browser clients.
const SessionCookie = "session"

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// NewSessionCookie wraps token in an HttpOnly cookie expiring with it.
func NewSessionCookie(token string, expires time.Time, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Require lets the request through only when it carries a valid token whose
// role is one of roles. Everything else is answered with 403. With a
// RoleResolver set, the stored role replaces the token's claim.
func (m *TokenManager) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				forbid(w, ErrInvalidToken)
				return
			}

			id, err := m.Parse(raw)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: rejected session token")
				forbid(w, ErrInvalidToken)
				return
			}

			if m.roles != nil {
				current, err := m.roles.CurrentRole(r.Context(), id.UserID)
				if err != nil {
					if apperr.Kind(err) == apperr.ErrNotFound {
						log.Warn().Stringer("user_id", id.UserID).Msg("auth: token for a deleted account")
						forbid(w, ErrInvalidToken)
						return
					}
					log.Error().Err(err).Stringer("user_id", id.UserID).Msg("auth: failed to resolve current role")
					writeError(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				id.Role = current
			}

			if !slices.Contains(roles, id.Role) {
				log.Warn().Stringer("user_id", id.UserID).Str("role", string(id.Role)).Str("path", r.URL.Path).Msg("auth: role not allowed")
				forbid(w, ErrForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func forbid(w http.ResponseWriter, err error) {
	writeError(w, http.StatusForbidden, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
