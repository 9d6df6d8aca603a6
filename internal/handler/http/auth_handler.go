package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"github.com/vasiliy-maslov/nfc-card-store/internal/user"
)

// SignInRequest accepts either a login or an email as identifier. Email is
// kept as an alias for older clients.
type SignInRequest struct {
	Identifier string `json:"identifier" validate:"max=254"`
	Email      string `json:"email" validate:"max=254"`
	Password   string `json:"password" validate:"required,max=200"`
}

type SessionResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type SignInResponse struct {
	User    *user.User      `json:"user"`
	Session SessionResponse `json:"session"`
}

type AuthHandler struct {
	users        user.Service
	tokens       *auth.TokenManager
	secureCookie bool
	validate     *validator.Validate
}

func NewAuthHandler(users user.Service, tokens *auth.TokenManager, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		users:        users,
		tokens:       tokens,
		secureCookie: secureCookie,
		validate:     newValidator(),
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/auth/signin", h.handleSignIn)
	router.Post("/api/auth/signout", h.handleSignOut)
	router.Post("/api/auth/signup", h.handleSignUp)
}

func (h *AuthHandler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var requestPayload SignInRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	identifier := strings.TrimSpace(requestPayload.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(requestPayload.Email)
	}
	if identifier == "" {
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: map[string]string{"identifier": "is required"},
		})
		return
	}

	account, err := h.users.Authenticate(r.Context(), identifier, requestPayload.Password)
	if err != nil {
		log.Warn().Err(err).Msg("Sign-in rejected")
		respondWithServiceError(w, err, "Failed to sign in")
		return
	}

	token, expiresAt, err := h.tokens.Issue(account.Identity())
	if err != nil {
		log.Error().Err(err).Stringer("user_id", account.ID).Msg("Failed to issue session token")
		respondWithError(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	http.SetCookie(w, auth.NewSessionCookie(token, expiresAt, h.secureCookie))
	log.Info().Stringer("user_id", account.ID).Str("role", string(account.Role)).Msg("Signed in")

	respondWithJSON(w, http.StatusOK, SignInResponse{
		User:    account,
		Session: SessionResponse{AccessToken: token, ExpiresAt: expiresAt},
	})
}

func (h *AuthHandler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	cookie := auth.NewSessionCookie("", time.Unix(0, 0), h.secureCookie)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

// Accounts are created by a super administrator only.
func (h *AuthHandler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusForbidden, "Inscription désactivée. Contactez un administrateur.")
}
