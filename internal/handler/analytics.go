package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AnalyticsStore defines the database methods needed by analytics handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type AnalyticsStore interface {
	GetOrderStatusCounts(ctx context.Context, arg database.GetOrderStatusCountsParams) ([]database.GetOrderStatusCountsRow, error)
	GetRevenueSummary(ctx context.Context, arg database.GetOrderStatusCountsParams) (database.GetRevenueSummaryRow, error)
	GetTopMenuItems(ctx context.Context, arg database.GetTopMenuItemsParams) ([]database.GetTopMenuItemsRow, error)
	GetRestaurantComparison(ctx context.Context, arg database.GetRestaurantComparisonParams) ([]database.GetRestaurantComparisonRow, error)
}

// AnalyticsHandler serves read-only dashboard projections.
type AnalyticsHandler struct {
	store  AnalyticsStore
	logger *logrus.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(store AnalyticsStore, logger *logrus.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{store: store, logger: logger}
}

// RegisterRoutes registers restaurant-scoped analytics endpoints.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}/analytics
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequireAccess(authz.Requirement{Permission: enum.PermissionViewAnalytics}))
	r.Get("/summary", h.Summary)
	r.Get("/top-items", h.TopItems)
}

// RegisterAdminRoutes registers cross-restaurant endpoints.
// Expected to be mounted at the root level: /analytics
func (h *AnalyticsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Use(middleware.RequireAccess(superAdminOnly))
	r.Get("/restaurants", h.RestaurantComparison)
}

// --- Response types ---

type summaryResponse struct {
	From              time.Time        `json:"from"`
	To                time.Time        `json:"to"`
	TotalOrders       int64            `json:"total_orders"`
	OrdersByStatus    map[string]int64 `json:"orders_by_status"`
	DeliveredOrders   int64            `json:"delivered_orders"`
	Revenue           string           `json:"revenue"`
	AverageOrderValue string           `json:"average_order_value"`
}

type topItemResponse struct {
	MenuItemID   uuid.UUID `json:"menu_item_id"`
	Name         string    `json:"name"`
	QuantitySold int64     `json:"quantity_sold"`
	Revenue      string    `json:"revenue"`
}

type restaurantComparisonResponse struct {
	RestaurantID   uuid.UUID `json:"restaurant_id"`
	RestaurantName string    `json:"restaurant_name"`
	OrderCount     int64     `json:"order_count"`
	Revenue        string    `json:"revenue"`
}

// --- Handlers ---

// Summary returns order counts per status and revenue from delivered
// orders for a date range.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	params := database.GetOrderStatusCountsParams{
		RestaurantID: restaurantID,
		CreatedAt:    pgtype.Timestamptz{Time: from, Valid: true},
		CreatedAt_2:  pgtype.Timestamptz{Time: to, Valid: true},
	}

	counts, err := h.store.GetOrderStatusCounts(r.Context(), params)
	if err != nil {
		h.logger.WithError(err).Error("get order status counts")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	revenue, err := h.store.GetRevenueSummary(r.Context(), params)
	if err != nil {
		h.logger.WithError(err).Error("get revenue summary")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := summaryResponse{
		From:            from,
		To:              to,
		OrdersByStatus:  make(map[string]int64, len(enum.OrderStatuses)),
		DeliveredOrders: revenue.DeliveredCount,
		Revenue:         service.NumericString(revenue.Revenue),
	}
	for _, s := range enum.OrderStatuses {
		resp.OrdersByStatus[s] = 0
	}
	for _, c := range counts {
		resp.OrdersByStatus[c.Status] = c.OrderCount
		resp.TotalOrders += c.OrderCount
	}
	avg := decimal.Zero
	if revenue.DeliveredCount > 0 {
		total, _ := decimal.NewFromString(resp.Revenue)
		avg = total.Div(decimal.NewFromInt(revenue.DeliveredCount))
	}
	resp.AverageOrderValue = avg.StringFixed(2)

	writeJSON(w, http.StatusOK, resp)
}

// TopItems returns the best selling menu items by quantity, excluding
// cancelled orders. Query param: limit (default 10, max 100).
func (h *AnalyticsHandler) TopItems(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeMessage(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	rows, err := h.store.GetTopMenuItems(r.Context(), database.GetTopMenuItemsParams{
		RestaurantID: restaurantID,
		CreatedAt:    pgtype.Timestamptz{Time: from, Valid: true},
		CreatedAt_2:  pgtype.Timestamptz{Time: to, Valid: true},
		Limit:        int32(limit),
	})
	if err != nil {
		h.logger.WithError(err).Error("get top menu items")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]topItemResponse, len(rows))
	for i, row := range rows {
		resp[i] = topItemResponse{
			MenuItemID:   row.MenuItemID,
			Name:         row.Name,
			QuantitySold: row.QuantitySold,
			Revenue:      service.NumericString(row.Revenue),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RestaurantComparison returns order count and delivered revenue for every
// restaurant.
func (h *AnalyticsHandler) RestaurantComparison(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.GetRestaurantComparison(r.Context(), database.GetRestaurantComparisonParams{
		CreatedAt:   pgtype.Timestamptz{Time: from, Valid: true},
		CreatedAt_2: pgtype.Timestamptz{Time: to, Valid: true},
	})
	if err != nil {
		h.logger.WithError(err).Error("get restaurant comparison")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]restaurantComparisonResponse, len(rows))
	for i, row := range rows {
		resp[i] = restaurantComparisonResponse{
			RestaurantID:   row.ID,
			RestaurantName: row.Name,
			OrderCount:     row.OrderCount,
			Revenue:        service.NumericString(row.Revenue),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

// parseDateRange reads start_date and end_date (YYYY-MM-DD, inclusive) in
// the zone named by tz (default UTC). Without dates the range is the last
// 30 days. The returned end is exclusive.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid tz %q", tz)
		}
		loc = l
	}

	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	startDate := today.AddDate(0, 0, -30)
	endDate := today.AddDate(0, 0, 1)

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format: %w", err)
		}
		startDate = t
	}

	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format: %w", err)
		}
		endDate = t.AddDate(0, 0, 1)
	}

	if !startDate.Before(endDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be before end_date")
	}
	return startDate, endDate, nil
}
