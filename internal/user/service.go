package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/nfc-card-store/internal/apperr"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = apperr.New(apperr.ErrNotFound, "user not found")
	ErrLoginExists        = apperr.New(apperr.ErrConflict, "login already in use")
	ErrEmailExists        = apperr.New(apperr.ErrConflict, "email already in use")
	ErrNameRequired       = apperr.New(apperr.ErrValidation, "name is required")
	ErrLoginRequired      = apperr.New(apperr.ErrValidation, "login is required")
	ErrPasswordTooShort   = apperr.New(apperr.ErrValidation, "password must be at least 8 characters")
	ErrInvalidEmail       = apperr.New(apperr.ErrValidation, "email is invalid")
	ErrInvalidRole        = apperr.New(apperr.ErrValidation, "role must be USER, ADMIN or SUPERADMIN")
	ErrNothingToUpdate    = apperr.New(apperr.ErrValidation, "nothing to update")
	ErrInvalidCredentials = apperr.New(apperr.ErrAuthentication, "invalid login or password")
	ErrWrongPassword      = apperr.New(apperr.ErrAuthentication, "current password is incorrect")
	ErrNotAdmin           = apperr.New(apperr.ErrAuthorization, "account is not allowed to sign in")
)

type Service interface {
	Create(ctx context.Context, in NewUser) (*User, error)
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	Update(ctx context.Context, id uuid.UUID, p Patch) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Authenticate(ctx context.Context, identifier, password string) (*User, error)
	UpdateOwnCredentials(ctx context.Context, id uuid.UUID, in CredentialsUpdate) (*User, error)
	EnsureSuperAdmin(ctx context.Context, login, password, name string) error
	CurrentRole(ctx context.Context, id uuid.UUID) (auth.Role, error)
}

type service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository) Service {
	return &service{repo: repo, validate: validator.New()}
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to generate password hash")
		return "", fmt.Errorf("service: failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *service) normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", nil
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func parseRole(raw string) (auth.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return auth.RoleUser, nil
	}
	role, ok := auth.ParseRole(raw)
	if !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}

func (s *service) Create(ctx context.Context, in NewUser) (*User, error) {
	u := &User{
		Name:  strings.TrimSpace(in.Name),
		Login: strings.TrimSpace(in.Login),
	}
	if u.Name == "" {
		return nil, ErrNameRequired
	}
	if u.Login == "" {
		return nil, ErrLoginRequired
	}

	var err error
	if u.Email, err = s.normalizeEmail(in.Email); err != nil {
		return nil, err
	}
	if u.Role, err = parseRole(in.Role); err != nil {
		return nil, err
	}
	if u.PasswordHash, err = hashPassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrLoginExists) || errors.Is(err, ErrEmailExists) {
			return nil, err
		}
		log.Error().Err(err).Str("login", u.Login).Msg("service: failed to create user in repository")
		return nil, fmt.Errorf("service: failed to save user: %w", err)
	}

	log.Info().Stringer("user_id", u.ID).Str("role", string(u.Role)).Msg("service: user created")
	return u, nil
}

func (s *service) List(ctx context.Context) ([]User, error) {
	users, err := s.repo.List(ctx, MaxListed)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list users: %w", err)
	}
	return users, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to get user by id")
		return nil, fmt.Errorf("service: failed to get user by id '%s': %w", id, err)
	}
	return u, nil
}

// CurrentRole is the role stored for id, used to check sessions against
// the account as it is now.
func (s *service) CurrentRole(ctx context.Context, id uuid.UUID) (auth.Role, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, p Patch) (*User, error) {
	if p.Name == nil && p.Login == nil && p.Email == nil && p.Role == nil && p.Password == nil {
		return nil, ErrNothingToUpdate
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if u.Name = strings.TrimSpace(*p.Name); u.Name == "" {
			return nil, ErrNameRequired
		}
	}
	if p.Login != nil {
		if u.Login = strings.TrimSpace(*p.Login); u.Login == "" {
			return nil, ErrLoginRequired
		}
	}
	if p.Email != nil {
		if u.Email, err = s.normalizeEmail(*p.Email); err != nil {
			return nil, err
		}
	}
	if p.Role != nil {
		role, ok := auth.ParseRole(*p.Role)
		if !ok {
			return nil, ErrInvalidRole
		}
		u.Role = role
	}
	if p.Password != nil {
		if u.PasswordHash, err = hashPassword(*p.Password); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}

	log.Info().Stringer("user_id", id).Msg("service: user updated")
	return u, nil
}

func (s *service) save(ctx context.Context, u *User) error {
	err := s.repo.Update(ctx, u)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLoginExists) || errors.Is(err, ErrEmailExists) {
		return err
	}
	log.Error().Err(err).Stringer("user_id", u.ID).Msg("service: failed to update user")
	return fmt.Errorf("service: failed to update user by id '%s': %w", u.ID, err)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to delete user")
		return fmt.Errorf("service: failed to delete user by id '%s': %w", id, err)
	}

	log.Info().Stringer("user_id", id).Msg("service: user deleted")
	return nil
}

// Authenticate matches identifier against the login, or against the email
// in lower case, and checks the password. Only admin roles may sign in.
func (s *service) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.repo.GetByLoginOrEmail(ctx, identifier, strings.ToLower(identifier))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Str("identifier", identifier).Msg("service: sign-in for unknown account")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("service: failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		log.Warn().Stringer("user_id", u.ID).Msg("service: sign-in with wrong password")
		return nil, ErrInvalidCredentials
	}

	if !u.Role.IsAdmin() {
		log.Warn().Stringer("user_id", u.ID).Str("role", string(u.Role)).Msg("service: sign-in refused for non-admin role")
		return nil, ErrNotAdmin
	}

	return u, nil
}

func (s *service) UpdateOwnCredentials(ctx context.Context, id uuid.UUID, in CredentialsUpdate) (*User, error) {
	if in.Email == nil && in.NewPassword == nil {
		return nil, ErrNothingToUpdate
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.CurrentPassword == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.CurrentPassword)) != nil {
		return nil, ErrWrongPassword
	}

	if in.Email != nil {
		if u.Email, err = s.normalizeEmail(*in.Email); err != nil {
			return nil, err
		}
	}
	if in.NewPassword != nil {
		if u.PasswordHash, err = hashPassword(*in.NewPassword); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}

	log.Info().Stringer("user_id", id).Msg("service: own credentials updated")
	return u, nil
}

// EnsureSuperAdmin creates a SUPERADMIN with the given login unless an
// account with that login already exists. Empty login or password is a
// no-op.
func (s *service) EnsureSuperAdmin(ctx context.Context, login, password, name string) error {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil
	}

	_, err := s.repo.GetByLogin(ctx, login)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("service: failed to look up bootstrap account: %w", err)
	}

	if strings.TrimSpace(name) == "" {
		name = "Super Admin"
	}
	u, err := s.Create(ctx, NewUser{Name: name, Login: login, Password: password, Role: string(auth.RoleSuperAdmin)})
	if err != nil {
		if errors.Is(err, ErrLoginExists) {
			return nil
		}
		return err
	}

	log.Info().Stringer("user_id", u.ID).Str("login", login).Msg("service: bootstrap superadmin created")
	return nil
}
