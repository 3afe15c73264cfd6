package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, email, hashed_password, name, role, restaurant_id, permissions, phone, phone_verified, is_active, password_updated_at, password_updated_by, created_by, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.HashedPassword,
		&i.Name,
		&i.Role,
		&i.RestaurantID,
		&i.Permissions,
		&i.Phone,
		&i.PhoneVerified,
		&i.IsActive,
		&i.PasswordUpdatedAt,
		&i.PasswordUpdatedBy,
		&i.CreatedBy,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (email, hashed_password, name, role, restaurant_id, permissions, phone, phone_verified, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + userColumns

type CreateUserParams struct {
	Email          string      `json:"email"`
	HashedPassword string      `json:"hashed_password"`
	Name           string      `json:"name"`
	Role           string      `json:"role"`
	RestaurantID   pgtype.UUID `json:"restaurant_id"`
	Permissions    []string    `json:"permissions"`
	Phone          string      `json:"phone"`
	PhoneVerified  bool        `json:"phone_verified"`
	CreatedBy      pgtype.UUID `json:"created_by"`
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser,
		arg.Email,
		arg.HashedPassword,
		arg.Name,
		arg.Role,
		arg.RestaurantID,
		arg.Permissions,
		arg.Phone,
		arg.PhoneVerified,
		arg.CreatedBy,
	)
	return scanUser(row)
}

const getUserByID = `-- name: GetUserByID :one
SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const getUserByPhone = `-- name: GetUserByPhone :one
SELECT ` + userColumns + ` FROM users WHERE phone = $1 AND is_active = true
ORDER BY created_at
LIMIT 1`

func (q *Queries) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByPhone, phone))
}

const listUsers = `-- name: ListUsers :many
SELECT ` + userColumns + ` FROM users
WHERE ($1::uuid IS NULL OR restaurant_id = $1)
  AND ($2::text IS NULL OR role = $2)
ORDER BY created_at DESC`

type ListUsersParams struct {
	RestaurantID pgtype.UUID `json:"restaurant_id"`
	Role         pgtype.Text `json:"role"`
}

func (q *Queries) ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error) {
	rows, err := q.db.Query(ctx, listUsers, arg.RestaurantID, arg.Role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []User{}
	for rows.Next() {
		i, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateUser = `-- name: UpdateUser :one
UPDATE users
SET email = $2, name = $3, role = $4, restaurant_id = $5, permissions = $6,
    phone = $7, is_active = $8,
    phone_verified = CASE WHEN phone = $7 THEN phone_verified ELSE false END,
    updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

type UpdateUserParams struct {
	ID           uuid.UUID   `json:"id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Role         string      `json:"role"`
	RestaurantID pgtype.UUID `json:"restaurant_id"`
	Permissions  []string    `json:"permissions"`
	Phone        string      `json:"phone"`
	IsActive     bool        `json:"is_active"`
}

func (q *Queries) UpdateUser(ctx context.Context, arg UpdateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, updateUser,
		arg.ID,
		arg.Email,
		arg.Name,
		arg.Role,
		arg.RestaurantID,
		arg.Permissions,
		arg.Phone,
		arg.IsActive,
	)
	return scanUser(row)
}

const updateUserPassword = `-- name: UpdateUserPassword :one
UPDATE users
SET hashed_password = $2, password_updated_at = now(), password_updated_by = $3, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

type UpdateUserPasswordParams struct {
	ID                uuid.UUID   `json:"id"`
	HashedPassword    string      `json:"hashed_password"`
	PasswordUpdatedBy pgtype.UUID `json:"password_updated_by"`
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, updateUserPassword, arg.ID, arg.HashedPassword, arg.PasswordUpdatedBy))
}

const setUserPhoneVerified = `-- name: SetUserPhoneVerified :one
UPDATE users SET phone_verified = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

type SetUserPhoneVerifiedParams struct {
	ID            uuid.UUID `json:"id"`
	PhoneVerified bool      `json:"phone_verified"`
}

func (q *Queries) SetUserPhoneVerified(ctx context.Context, arg SetUserPhoneVerifiedParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, setUserPhoneVerified, arg.ID, arg.PhoneVerified))
}

const deleteUser = `-- name: DeleteUser :execrows
DELETE FROM users WHERE id = $1`

func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteUser, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
