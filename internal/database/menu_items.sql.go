package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const menuItemColumns = `id, restaurant_id, name, description, price, category, image_url, is_available, created_at, updated_at`

func scanMenuItem(row rowScanner) (MenuItem, error) {
	var i MenuItem
	err := row.Scan(
		&i.ID,
		&i.RestaurantID,
		&i.Name,
		&i.Description,
		&i.Price,
		&i.Category,
		&i.ImageUrl,
		&i.IsAvailable,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createMenuItem = `-- name: CreateMenuItem :one
INSERT INTO menu_items (restaurant_id, name, description, price, category, image_url, is_available)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + menuItemColumns

type CreateMenuItemParams struct {
	RestaurantID uuid.UUID      `json:"restaurant_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Price        pgtype.Numeric `json:"price"`
	Category     string         `json:"category"`
	ImageUrl     pgtype.Text    `json:"image_url"`
	IsAvailable  bool           `json:"is_available"`
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg CreateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, createMenuItem,
		arg.RestaurantID,
		arg.Name,
		arg.Description,
		arg.Price,
		arg.Category,
		arg.ImageUrl,
		arg.IsAvailable,
	)
	return scanMenuItem(row)
}

const getMenuItem = `-- name: GetMenuItem :one
SELECT ` + menuItemColumns + ` FROM menu_items WHERE id = $1 AND restaurant_id = $2`

type GetMenuItemParams struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
}

func (q *Queries) GetMenuItem(ctx context.Context, arg GetMenuItemParams) (MenuItem, error) {
	return scanMenuItem(q.db.QueryRow(ctx, getMenuItem, arg.ID, arg.RestaurantID))
}

const listMenuItems = `-- name: ListMenuItems :many
SELECT ` + menuItemColumns + ` FROM menu_items
WHERE restaurant_id = $1
  AND ($2::text IS NULL OR category = $2)
  AND (NOT $3::boolean OR is_available = true)
ORDER BY category, name`

type ListMenuItemsParams struct {
	RestaurantID  uuid.UUID   `json:"restaurant_id"`
	Category      pgtype.Text `json:"category"`
	AvailableOnly bool        `json:"available_only"`
}

func (q *Queries) ListMenuItems(ctx context.Context, arg ListMenuItemsParams) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItems, arg.RestaurantID, arg.Category, arg.AvailableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []MenuItem{}
	for rows.Next() {
		i, err := scanMenuItem(rows)
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

const listMenuCategories = `-- name: ListMenuCategories :many
SELECT DISTINCT category FROM menu_items
WHERE restaurant_id = $1 AND is_available = true AND category <> ''
ORDER BY category`

func (q *Queries) ListMenuCategories(ctx context.Context, restaurantID uuid.UUID) ([]string, error) {
	rows, err := q.db.Query(ctx, listMenuCategories, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []string{}
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		items = append(items, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateMenuItem = `-- name: UpdateMenuItem :one
UPDATE menu_items
SET name = $3, description = $4, price = $5, category = $6, image_url = $7,
    is_available = $8, updated_at = now()
WHERE id = $1 AND restaurant_id = $2
RETURNING ` + menuItemColumns

type UpdateMenuItemParams struct {
	ID           uuid.UUID      `json:"id"`
	RestaurantID uuid.UUID      `json:"restaurant_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Price        pgtype.Numeric `json:"price"`
	Category     string         `json:"category"`
	ImageUrl     pgtype.Text    `json:"image_url"`
	IsAvailable  bool           `json:"is_available"`
}

func (q *Queries) UpdateMenuItem(ctx context.Context, arg UpdateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, updateMenuItem,
		arg.ID,
		arg.RestaurantID,
		arg.Name,
		arg.Description,
		arg.Price,
		arg.Category,
		arg.ImageUrl,
		arg.IsAvailable,
	)
	return scanMenuItem(row)
}

const setMenuItemAvailability = `-- name: SetMenuItemAvailability :one
UPDATE menu_items SET is_available = $3, updated_at = now()
WHERE id = $1 AND restaurant_id = $2
RETURNING ` + menuItemColumns

type SetMenuItemAvailabilityParams struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	IsAvailable  bool      `json:"is_available"`
}

func (q *Queries) SetMenuItemAvailability(ctx context.Context, arg SetMenuItemAvailabilityParams) (MenuItem, error) {
	return scanMenuItem(q.db.QueryRow(ctx, setMenuItemAvailability, arg.ID, arg.RestaurantID, arg.IsAvailable))
}

const deleteMenuItem = `-- name: DeleteMenuItem :execrows
DELETE FROM menu_items
WHERE id = $1 AND restaurant_id = $2
  AND NOT EXISTS (SELECT 1 FROM order_items WHERE menu_item_id = $1)`

// DeleteMenuItem removes an item that no order refers to. Items that were
// ever ordered should be marked unavailable instead.
func (q *Queries) DeleteMenuItem(ctx context.Context, arg GetMenuItemParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteMenuItem, arg.ID, arg.RestaurantID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getMenuItemForOrder = `-- name: GetMenuItemForOrder :one
SELECT id, name, price, is_available FROM menu_items
WHERE id = $1 AND restaurant_id = $2`

type GetMenuItemForOrderRow struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Price       pgtype.Numeric `json:"price"`
	IsAvailable bool           `json:"is_available"`
}

func (q *Queries) GetMenuItemForOrder(ctx context.Context, arg GetMenuItemParams) (GetMenuItemForOrderRow, error) {
	row := q.db.QueryRow(ctx, getMenuItemForOrder, arg.ID, arg.RestaurantID)
	var i GetMenuItemForOrderRow
	err := row.Scan(&i.ID, &i.Name, &i.Price, &i.IsAvailable)
	return i, err
}
