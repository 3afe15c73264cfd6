package database

import (
	"context"

	"github.com/google/uuid"
)

const tableColumns = `id, restaurant_id, table_number, capacity, status, location, description, created_at, updated_at`

func scanTable(row rowScanner) (RestaurantTable, error) {
	var i RestaurantTable
	err := row.Scan(
		&i.ID,
		&i.RestaurantID,
		&i.TableNumber,
		&i.Capacity,
		&i.Status,
		&i.Location,
		&i.Description,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createTable = `-- name: CreateTable :one
INSERT INTO restaurant_tables (restaurant_id, table_number, capacity, status, location, description)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + tableColumns

type CreateTableParams struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	TableNumber  string    `json:"table_number"`
	Capacity     int32     `json:"capacity"`
	Status       string    `json:"status"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
}

func (q *Queries) CreateTable(ctx context.Context, arg CreateTableParams) (RestaurantTable, error) {
	row := q.db.QueryRow(ctx, createTable,
		arg.RestaurantID,
		arg.TableNumber,
		arg.Capacity,
		arg.Status,
		arg.Location,
		arg.Description,
	)
	return scanTable(row)
}

const getTable = `-- name: GetTable :one
SELECT ` + tableColumns + ` FROM restaurant_tables WHERE id = $1 AND restaurant_id = $2`

type GetTableParams struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
}

func (q *Queries) GetTable(ctx context.Context, arg GetTableParams) (RestaurantTable, error) {
	return scanTable(q.db.QueryRow(ctx, getTable, arg.ID, arg.RestaurantID))
}

const getTableForUpdate = `-- name: GetTableForUpdate :one
SELECT ` + tableColumns + ` FROM restaurant_tables WHERE id = $1 AND restaurant_id = $2
FOR UPDATE`

// GetTableForUpdate locks the table row until the surrounding transaction ends.
func (q *Queries) GetTableForUpdate(ctx context.Context, arg GetTableParams) (RestaurantTable, error) {
	return scanTable(q.db.QueryRow(ctx, getTableForUpdate, arg.ID, arg.RestaurantID))
}

const listTables = `-- name: ListTables :many
SELECT ` + tableColumns + ` FROM restaurant_tables WHERE restaurant_id = $1
ORDER BY table_number`

func (q *Queries) ListTables(ctx context.Context, restaurantID uuid.UUID) ([]RestaurantTable, error) {
	rows, err := q.db.Query(ctx, listTables, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []RestaurantTable{}
	for rows.Next() {
		i, err := scanTable(rows)
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

const updateTable = `-- name: UpdateTable :one
UPDATE restaurant_tables
SET table_number = $3, capacity = $4, location = $5, description = $6, updated_at = now()
WHERE id = $1 AND restaurant_id = $2
RETURNING ` + tableColumns

type UpdateTableParams struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	TableNumber  string    `json:"table_number"`
	Capacity     int32     `json:"capacity"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
}

func (q *Queries) UpdateTable(ctx context.Context, arg UpdateTableParams) (RestaurantTable, error) {
	row := q.db.QueryRow(ctx, updateTable,
		arg.ID,
		arg.RestaurantID,
		arg.TableNumber,
		arg.Capacity,
		arg.Location,
		arg.Description,
	)
	return scanTable(row)
}

const updateTableStatus = `-- name: UpdateTableStatus :one
UPDATE restaurant_tables SET status = $3, updated_at = now()
WHERE id = $1 AND restaurant_id = $2
RETURNING ` + tableColumns

type UpdateTableStatusParams struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Status       string    `json:"status"`
}

func (q *Queries) UpdateTableStatus(ctx context.Context, arg UpdateTableStatusParams) (RestaurantTable, error) {
	return scanTable(q.db.QueryRow(ctx, updateTableStatus, arg.ID, arg.RestaurantID, arg.Status))
}

const deleteTable = `-- name: DeleteTable :execrows
DELETE FROM restaurant_tables
WHERE id = $1 AND restaurant_id = $2
  AND NOT EXISTS (SELECT 1 FROM orders WHERE table_id = $1)`

// DeleteTable removes a table that has never been ordered from. Zero rows
// means the table is missing or still referenced.
func (q *Queries) DeleteTable(ctx context.Context, arg GetTableParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteTable, arg.ID, arg.RestaurantID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
