package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getOrderStatusCounts = `-- name: GetOrderStatusCounts :many
SELECT status, count(*) AS order_count FROM orders
WHERE restaurant_id = $1 AND created_at >= $2 AND created_at < $3
GROUP BY status
ORDER BY status`

type GetOrderStatusCountsParams struct {
	RestaurantID uuid.UUID          `json:"restaurant_id"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	CreatedAt_2  pgtype.Timestamptz `json:"created_at_2"`
}

type GetOrderStatusCountsRow struct {
	Status     string `json:"status"`
	OrderCount int64  `json:"order_count"`
}

func (q *Queries) GetOrderStatusCounts(ctx context.Context, arg GetOrderStatusCountsParams) ([]GetOrderStatusCountsRow, error) {
	rows, err := q.db.Query(ctx, getOrderStatusCounts, arg.RestaurantID, arg.CreatedAt, arg.CreatedAt_2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []GetOrderStatusCountsRow{}
	for rows.Next() {
		var i GetOrderStatusCountsRow
		if err := rows.Scan(&i.Status, &i.OrderCount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRevenueSummary = `-- name: GetRevenueSummary :one
SELECT count(*) AS delivered_count, COALESCE(sum(total), 0)::numeric(12,2) AS revenue
FROM orders
WHERE restaurant_id = $1 AND status = 'delivered' AND created_at >= $2 AND created_at < $3`

type GetRevenueSummaryRow struct {
	DeliveredCount int64          `json:"delivered_count"`
	Revenue        pgtype.Numeric `json:"revenue"`
}

func (q *Queries) GetRevenueSummary(ctx context.Context, arg GetOrderStatusCountsParams) (GetRevenueSummaryRow, error) {
	row := q.db.QueryRow(ctx, getRevenueSummary, arg.RestaurantID, arg.CreatedAt, arg.CreatedAt_2)
	var i GetRevenueSummaryRow
	err := row.Scan(&i.DeliveredCount, &i.Revenue)
	return i, err
}

const getTopMenuItems = `-- name: GetTopMenuItems :many
SELECT oi.menu_item_id, oi.name, sum(oi.quantity)::bigint AS quantity_sold,
       sum(oi.total)::numeric(12,2) AS revenue
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.restaurant_id = $1 AND o.status <> 'cancelled'
  AND o.created_at >= $2 AND o.created_at < $3
GROUP BY oi.menu_item_id, oi.name
ORDER BY quantity_sold DESC, oi.name
LIMIT $4`

type GetTopMenuItemsParams struct {
	RestaurantID uuid.UUID          `json:"restaurant_id"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	CreatedAt_2  pgtype.Timestamptz `json:"created_at_2"`
	Limit        int32              `json:"limit"`
}

type GetTopMenuItemsRow struct {
	MenuItemID   uuid.UUID      `json:"menu_item_id"`
	Name         string         `json:"name"`
	QuantitySold int64          `json:"quantity_sold"`
	Revenue      pgtype.Numeric `json:"revenue"`
}

func (q *Queries) GetTopMenuItems(ctx context.Context, arg GetTopMenuItemsParams) ([]GetTopMenuItemsRow, error) {
	rows, err := q.db.Query(ctx, getTopMenuItems, arg.RestaurantID, arg.CreatedAt, arg.CreatedAt_2, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []GetTopMenuItemsRow{}
	for rows.Next() {
		var i GetTopMenuItemsRow
		if err := rows.Scan(&i.MenuItemID, &i.Name, &i.QuantitySold, &i.Revenue); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRestaurantComparison = `-- name: GetRestaurantComparison :many
SELECT r.id, r.name,
       count(o.id) AS order_count,
       COALESCE(sum(o.total) FILTER (WHERE o.status = 'delivered'), 0)::numeric(12,2) AS revenue
FROM restaurants r
LEFT JOIN orders o ON o.restaurant_id = r.id AND o.created_at >= $1 AND o.created_at < $2
GROUP BY r.id, r.name
ORDER BY revenue DESC, r.name`

type GetRestaurantComparisonParams struct {
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	CreatedAt_2 pgtype.Timestamptz `json:"created_at_2"`
}

type GetRestaurantComparisonRow struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	OrderCount int64          `json:"order_count"`
	Revenue    pgtype.Numeric `json:"revenue"`
}

func (q *Queries) GetRestaurantComparison(ctx context.Context, arg GetRestaurantComparisonParams) ([]GetRestaurantComparisonRow, error) {
	rows, err := q.db.Query(ctx, getRestaurantComparison, arg.CreatedAt, arg.CreatedAt_2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []GetRestaurantComparisonRow{}
	for rows.Next() {
		var i GetRestaurantComparisonRow
		if err := rows.Scan(&i.ID, &i.Name, &i.OrderCount, &i.Revenue); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
