package database

import (
	"context"

	"github.com/google/uuid"
)

const restaurantColumns = `id, name, type, description, phone, email, website, address, opening_hours, settings, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRestaurant(row rowScanner) (Restaurant, error) {
	var i Restaurant
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Type,
		&i.Description,
		&i.Phone,
		&i.Email,
		&i.Website,
		&i.Address,
		&i.OpeningHours,
		&i.Settings,
		&i.Status,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createRestaurant = `-- name: CreateRestaurant :one
INSERT INTO restaurants (name, type, description, phone, email, website, address, opening_hours, settings, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + restaurantColumns

type CreateRestaurantParams struct {
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Description  string             `json:"description"`
	Phone        string             `json:"phone"`
	Email        string             `json:"email"`
	Website      string             `json:"website"`
	Address      string             `json:"address"`
	OpeningHours OpeningHours       `json:"opening_hours"`
	Settings     RestaurantSettings `json:"settings"`
	Status       string             `json:"status"`
}

func (q *Queries) CreateRestaurant(ctx context.Context, arg CreateRestaurantParams) (Restaurant, error) {
	row := q.db.QueryRow(ctx, createRestaurant,
		arg.Name,
		arg.Type,
		arg.Description,
		arg.Phone,
		arg.Email,
		arg.Website,
		arg.Address,
		arg.OpeningHours,
		arg.Settings,
		arg.Status,
	)
	return scanRestaurant(row)
}

const getRestaurant = `-- name: GetRestaurant :one
SELECT ` + restaurantColumns + ` FROM restaurants WHERE id = $1`

func (q *Queries) GetRestaurant(ctx context.Context, id uuid.UUID) (Restaurant, error) {
	return scanRestaurant(q.db.QueryRow(ctx, getRestaurant, id))
}

const listRestaurants = `-- name: ListRestaurants :many
SELECT ` + restaurantColumns + ` FROM restaurants ORDER BY name`

func (q *Queries) ListRestaurants(ctx context.Context) ([]Restaurant, error) {
	rows, err := q.db.Query(ctx, listRestaurants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Restaurant{}
	for rows.Next() {
		i, err := scanRestaurant(rows)
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

const updateRestaurant = `-- name: UpdateRestaurant :one
UPDATE restaurants
SET name = $2, type = $3, description = $4, phone = $5, email = $6,
    website = $7, address = $8, status = $9, updated_at = now()
WHERE id = $1
RETURNING ` + restaurantColumns

type UpdateRestaurantParams struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	Website     string    `json:"website"`
	Address     string    `json:"address"`
	Status      string    `json:"status"`
}

func (q *Queries) UpdateRestaurant(ctx context.Context, arg UpdateRestaurantParams) (Restaurant, error) {
	row := q.db.QueryRow(ctx, updateRestaurant,
		arg.ID,
		arg.Name,
		arg.Type,
		arg.Description,
		arg.Phone,
		arg.Email,
		arg.Website,
		arg.Address,
		arg.Status,
	)
	return scanRestaurant(row)
}

const updateRestaurantSettings = `-- name: UpdateRestaurantSettings :one
UPDATE restaurants
SET opening_hours = $2, settings = $3, updated_at = now()
WHERE id = $1
RETURNING ` + restaurantColumns

type UpdateRestaurantSettingsParams struct {
	ID           uuid.UUID          `json:"id"`
	OpeningHours OpeningHours       `json:"opening_hours"`
	Settings     RestaurantSettings `json:"settings"`
}

func (q *Queries) UpdateRestaurantSettings(ctx context.Context, arg UpdateRestaurantSettingsParams) (Restaurant, error) {
	return scanRestaurant(q.db.QueryRow(ctx, updateRestaurantSettings, arg.ID, arg.OpeningHours, arg.Settings))
}

const deleteRestaurant = `-- name: DeleteRestaurant :execrows
DELETE FROM restaurants WHERE id = $1`

func (q *Queries) DeleteRestaurant(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteRestaurant, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
