package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/trailhead-tours/apiserver/types"
)

const uniqueViolation = "23505"

// ErrDuplicateEmail is returned when an email is already registered.
var ErrDuplicateEmail = errors.New("email already in use")

// UserRepository handles persistence for users. Every read path filters
// out deactivated accounts; deactivation is the only form of deletion.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, COALESCE(photo, ''), role, password_hash,
	password_changed_at, password_reset_token, password_reset_expires,
	active, created_at, updated_at`

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Photo,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.PasswordResetToken,
		&user.PasswordResetExpires,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND active = TRUE`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 AND active = TRUE`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByResetToken resolves the user holding the given reset-token hash,
// provided the token has not expired.
func (r *UserRepository) GetByResetToken(ctx context.Context, tokenHash string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE password_reset_token = $1
		  AND password_reset_expires > NOW()
		  AND active = TRUE`
	return scanUser(r.db.QueryRowContext(ctx, query, tokenHash))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Active = true

	const query = `
		INSERT INTO users (name, email, role, password_hash, password_changed_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.PasswordChangedAt,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return user, nil
}

// UpdateProfile mutates only the allow-listed profile fields.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int, name, email string) (types.User, error) {
	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			updated_at = $3
		WHERE id = $4 AND active = TRUE
		RETURNING ` + userColumns
	row := r.db.QueryRowContext(ctx, query, name, email, time.Now(), id)
	user, err := scanUser(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return user, nil
}

// UpdatePassword replaces the password hash, records the change instant
// and clears any outstanding reset token in the same statement.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int, passwordHash string, changedAt time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $3
		WHERE id = $4 AND active = TRUE`
	return r.execOne(ctx, query, passwordHash, changedAt, time.Now(), id)
}

// SetPasswordReset persists the reset-token hash and its expiry. This is
// a targeted partial update; it deliberately touches nothing else on the
// row.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id int, tokenHash string, expires time.Time) error {
	const query = `
		UPDATE users
		SET password_reset_token = $1,
			password_reset_expires = $2
		WHERE id = $3 AND active = TRUE`
	return r.execOne(ctx, query, tokenHash, expires, id)
}

// ClearPasswordReset removes the reset token and expiry together.
func (r *UserRepository) ClearPasswordReset(ctx context.Context, id int) error {
	const query = `
		UPDATE users
		SET password_reset_token = NULL,
			password_reset_expires = NULL
		WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// SetPhoto records the media-store key of the user's profile photo.
func (r *UserRepository) SetPhoto(ctx context.Context, id int, key string) error {
	const query = `
		UPDATE users
		SET photo = $1,
			updated_at = $2
		WHERE id = $3 AND active = TRUE`
	return r.execOne(ctx, query, key, time.Now(), id)
}

// Deactivate soft-deletes the user. The record is kept.
func (r *UserRepository) Deactivate(ctx context.Context, id int) error {
	const query = `
		UPDATE users
		SET active = FALSE,
			updated_at = $1
		WHERE id = $2 AND active = TRUE`
	return r.execOne(ctx, query, time.Now(), id)
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	const countQuery = `SELECT COUNT(*) FROM users WHERE active = TRUE`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE active = TRUE
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []types.User{}
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.Photo,
			&user.Role,
			&user.PasswordHash,
			&user.PasswordChangedAt,
			&user.PasswordResetToken,
			&user.PasswordResetExpires,
			&user.Active,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
