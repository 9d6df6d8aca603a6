package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	Create(ctx context.Context, u *User) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	GetByLoginOrEmail(ctx context.Context, login, email string) (*User, error)
	List(ctx context.Context, limit int) ([]User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const userColumns = `id, name, login, COALESCE(email, ''), password, role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Login, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// uniqueError maps a unique violation to the matching sentinel, or returns
// nil.
func uniqueError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrEmailExists
	default:
		return ErrLoginExists
	}
}

func (r *postgresRepository) Create(ctx context.Context, u *User) (uuid.UUID, error) {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate user ID: %w", err)
		}
		u.ID = id
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO users (id, name, login, email, password, role, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4::text, ''), $5, $6, $7, $7)
	`
	if _, err := r.db.Exec(ctx, query, u.ID, u.Name, u.Login, u.Email, u.PasswordHash, string(u.Role), now); err != nil {
		if uerr := uniqueError(err); uerr != nil {
			return uuid.Nil, uerr
		}
		log.Error().Err(err).Str("login", u.Login).Msg("repository: failed to insert user")
		return uuid.Nil, fmt.Errorf("repository: failed to insert user: %w", err)
	}

	u.CreatedAt = now
	u.UpdatedAt = now
	return u.ID, nil
}

func (r *postgresRepository) getOne(ctx context.Context, where string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select user: %w", err)
	}
	return u, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *postgresRepository) GetByLogin(ctx context.Context, login string) (*User, error) {
	return r.getOne(ctx, "login = $1", login)
}

func (r *postgresRepository) GetByLoginOrEmail(ctx context.Context, login, email string) (*User, error) {
	// A login match wins over another account's email.
	return r.getOne(ctx, "login = $1 OR email = $2 ORDER BY (login = $1) DESC", login, email)
}

func (r *postgresRepository) List(ctx context.Context, limit int) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating users: %w", err)
	}
	return users, nil
}

func (r *postgresRepository) Update(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	query := `
		UPDATE users
		SET name = $1, login = $2, email = NULLIF($3::text, ''), password = $4, role = $5, updated_at = $6
		WHERE id = $7
	`
	cmdTag, err := r.db.Exec(ctx, query, u.Name, u.Login, u.Email, u.PasswordHash, string(u.Role), now, u.ID)
	if err != nil {
		if uerr := uniqueError(err); uerr != nil {
			return uerr
		}
		log.Error().Err(err).Stringer("user_id", u.ID).Msg("repository: failed to update user")
		return fmt.Errorf("repository: failed to update user %s: %w", u.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	u.UpdatedAt = now
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
