package user

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/nfc-card-store/internal/auth"
)

// MaxListed bounds List.
const MaxListed = 2000

const minPasswordLength = 8

type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Login        string    `json:"login"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity is what a session token carries for u.
func (u *User) Identity() auth.Identity {
	return auth.Identity{UserID: u.ID, Login: u.Login, Role: u.Role}
}

type NewUser struct {
	Name     string
	Login    string
	Email    string
	Password string
	Role     string
}

// Patch changes only the non-nil fields. An empty Email clears it.
type Patch struct {
	Name     *string
	Login    *string
	Email    *string
	Role     *string
	Password *string
}

type CredentialsUpdate struct {
	CurrentPassword string
	Email           *string
	NewPassword     *string
}
