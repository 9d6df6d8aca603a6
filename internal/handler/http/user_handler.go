package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"github.com/vasiliy-maslov/nfc-card-store/internal/user"
)

type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Login    string `json:"login" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=200"`
	Role     string `json:"role" validate:"omitempty,max=16"`
}

// UpdateUserRequest changes only the fields present in the body. An empty
// email clears it.
type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Login    *string `json:"login,omitempty" validate:"omitempty,max=100"`
	Email    *string `json:"email,omitempty" validate:"omitempty,max=254"`
	Role     *string `json:"role,omitempty" validate:"omitempty,max=16"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=200"`
}

type UpdateSettingsRequest struct {
	CurrentPassword string  `json:"currentPassword" validate:"required"`
	Email           *string `json:"email,omitempty" validate:"omitempty,max=254"`
	NewPassword     *string `json:"newPassword,omitempty" validate:"omitempty,min=8,max=200"`
}

type UserResponse struct {
	User *user.User `json:"user"`
}

type UsersResponse struct {
	Users []user.User `json:"users"`
}

type UserHandler struct {
	service  user.Service
	validate *validator.Validate
}

func NewUserHandler(service user.Service) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the account administration routes. The router must
// already restrict access to super administrators.
func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users", h.handleListUsers)
	router.Post("/users", h.handleCreateUser)
	router.Patch("/users/{id}", h.handleUpdateUser)
	router.Delete("/users/{id}", h.handleDeleteUser)
}

// RegisterSettingsRoutes mounts the routes an administrator uses on their
// own account.
func (h *UserHandler) RegisterSettingsRoutes(router chi.Router) {
	router.Post("/settings", h.handleUpdateSettings)
}

func (h *UserHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users via service")
		respondWithServiceError(w, err, "Failed to list users")
		return
	}
	if users == nil {
		users = []user.User{}
	}

	respondWithJSON(w, http.StatusOK, UsersResponse{Users: users})
}

func (h *UserHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateUserRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	createdUser, err := h.service.Create(r.Context(), user.NewUser{
		Name:     requestPayload.Name,
		Login:    requestPayload.Login,
		Email:    requestPayload.Email,
		Password: requestPayload.Password,
		Role:     requestPayload.Role,
	})
	if err != nil {
		log.Error().Err(err).Str("login", requestPayload.Login).Msg("Failed to create user via service")
		respondWithServiceError(w, err, "Failed to create user")
		return
	}

	respondWithJSON(w, http.StatusCreated, UserResponse{User: createdUser})
}

func (h *UserHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload UpdateUserRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updatedUser, err := h.service.Update(r.Context(), userID, user.Patch{
		Name:     requestPayload.Name,
		Login:    requestPayload.Login,
		Email:    requestPayload.Email,
		Role:     requestPayload.Role,
		Password: requestPayload.Password,
	})
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to update user via service")
		respondWithServiceError(w, err, "Failed to update user")
		return
	}

	respondWithJSON(w, http.StatusOK, UserResponse{User: updatedUser})
}

func (h *UserHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if caller, ok := auth.FromContext(r.Context()); ok && caller.UserID == userID {
		respondWithError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	if err := h.service.Delete(r.Context(), userID); err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to delete user via service")
		respondWithServiceError(w, err, "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusForbidden, auth.ErrInvalidToken.Error())
		return
	}

	var requestPayload UpdateSettingsRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updatedUser, err := h.service.UpdateOwnCredentials(r.Context(), caller.UserID, user.CredentialsUpdate{
		CurrentPassword: requestPayload.CurrentPassword,
		Email:           requestPayload.Email,
		NewPassword:     requestPayload.NewPassword,
	})
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", caller.UserID).Msg("Failed to update own settings via service")
		respondWithServiceError(w, err, "Failed to update settings")
		return
	}

	respondWithJSON(w, http.StatusOK, UserResponse{User: updatedUser})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	userID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("user_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return userID, true
}
