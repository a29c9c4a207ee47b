package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, first_name, last_name, email, phone, hashed_password, role,
	is_email_verified, email_verification_token, password_reset_token,
	password_reset_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.FirstName,
		&i.LastName,
		&i.Email,
		&i.Phone,
		&i.HashedPassword,
		&i.Role,
		&i.IsEmailVerified,
		&i.EmailVerificationToken,
		&i.PasswordResetToken,
		&i.PasswordResetExpiresAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (first_name, last_name, email, phone, hashed_password, role, email_verification_token)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + userColumns

type CreateUserParams struct {
	FirstName              string      `json:"first_name"`
	LastName               string      `json:"last_name"`
	Email                  string      `json:"email"`
	Phone                  pgtype.Text `json:"phone"`
	HashedPassword         string      `json:"hashed_password"`
	Role                   string      `json:"role"`
	EmailVerificationToken pgtype.Text `json:"email_verification_token"`
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser,
		arg.FirstName,
		arg.LastName,
		arg.Email,
		arg.Phone,
		arg.HashedPassword,
		arg.Role,
		arg.EmailVerificationToken,
	)
	return scanUser(row)
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const verifyUserEmail = `-- name: VerifyUserEmail :one
UPDATE users
SET is_email_verified = TRUE, email_verification_token = NULL, updated_at = now()
WHERE email_verification_token = $1
RETURNING ` + userColumns

// VerifyUserEmail consumes a verification token. pgx.ErrNoRows means the token is unknown.
func (q *Queries) VerifyUserEmail(ctx context.Context, token string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, verifyUserEmail, token))
}

const setPasswordResetToken = `-- name: SetPasswordResetToken :exec
UPDATE users
SET password_reset_token = $2, password_reset_expires_at = $3, updated_at = now()
WHERE id = $1`

type SetPasswordResetTokenParams struct {
	ID        uuid.UUID `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (q *Queries) SetPasswordResetToken(ctx context.Context, arg SetPasswordResetTokenParams) error {
	_, err := q.db.Exec(ctx, setPasswordResetToken, arg.ID, arg.Token, arg.ExpiresAt)
	return err
}

const resetPassword = `-- name: ResetPassword :one
UPDATE users
SET hashed_password = $2,
    password_reset_token = NULL,
    password_reset_expires_at = NULL,
    updated_at = now()
WHERE password_reset_token = $1 AND password_reset_expires_at > $3
RETURNING ` + userColumns

type ResetPasswordParams struct {
	Token          string    `json:"token"`
	HashedPassword string    `json:"hashed_password"`
	Now            time.Time `json:"now"`
}

// ResetPassword swaps the password for a valid, unexpired reset token.
// pgx.ErrNoRows means the token is unknown or expired.
func (q *Queries) ResetPassword(ctx context.Context, arg ResetPasswordParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, resetPassword, arg.Token, arg.HashedPassword, arg.Now))
}
