package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/service"
	"github.com/sirupsen/logrus"
)

// PublicMenuStore defines the database methods the customer menu page needs.
// Satisfied by *database.Queries.
type PublicMenuStore interface {
	GetRestaurant(ctx context.Context, id uuid.UUID) (database.Restaurant, error)
	GetTable(ctx context.Context, arg database.GetTableParams) (database.RestaurantTable, error)
	ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error)
	ListMenuCategories(ctx context.Context, restaurantID uuid.UUID) ([]string, error)
}

// OrderSubmitter is the customer side of the order lifecycle engine.
// Satisfied by *service.OrderService.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.OrderView, error)
	TrackOrder(ctx context.Context, orderID uuid.UUID, phone string) (*service.OrderView, error)
}

// PublicHandler serves the QR-code menu page and customer orders. No
// authentication; the table and phone number scope what a customer sees.
type PublicHandler struct {
	store  PublicMenuStore
	orders OrderSubmitter
	logger *logrus.Logger
}

// NewPublicHandler creates a new PublicHandler.
func NewPublicHandler(store PublicMenuStore, orders OrderSubmitter, logger *logrus.Logger) *PublicHandler {
	return &PublicHandler{store: store, orders: orders, logger: logger}
}

// RegisterRoutes registers customer endpoints. Expected to be mounted at /public
func (h *PublicHandler) RegisterRoutes(r chi.Router) {
	r.Get("/restaurants/{rid}/menu", h.Menu)
	r.Post("/restaurants/{rid}/tables/{tid}/orders", h.CreateOrder)
	r.Get("/orders/{id}", h.TrackOrder)
}

// --- Request / Response types ---

type customerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

type orderLineRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
}

// maxOrderBodyBytes caps an anonymous order submission.
const maxOrderBodyBytes = 64 << 10

// createOrderRequest mirrors the customer cart. Any total sent by the
// client is ignored; prices come from the menu.
type createOrderRequest struct {
	Customer customerRequest    `json:"customer"`
	Items    []orderLineRequest `json:"items"`
}

type publicRestaurant struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	Type            string                `json:"type"`
	Description     string                `json:"description"`
	Phone           string                `json:"phone"`
	Address         string                `json:"address"`
	OpeningHours    database.OpeningHours `json:"opening_hours"`
	AcceptingOrders bool                  `json:"accepting_orders"`
}

type publicTable struct {
	ID          uuid.UUID `json:"id"`
	TableNumber string    `json:"table_number"`
	Location    string    `json:"location"`
}

type publicMenuResponse struct {
	Restaurant publicRestaurant   `json:"restaurant"`
	Table      *publicTable       `json:"table,omitempty"`
	Categories []string           `json:"categories"`
	Items      []menuItemResponse `json:"items"`
}

type trackingItem struct {
	Name     string `json:"name"`
	Quantity int32  `json:"quantity"`
	Total    string `json:"total"`
}

type trackingResponse struct {
	ID          uuid.UUID      `json:"id"`
	OrderNumber string         `json:"order_number"`
	Status      string         `json:"status"`
	Total       string         `json:"total"`
	Items       []trackingItem `json:"items"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toTrackingResponse(o *service.OrderView) trackingResponse {
	resp := trackingResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		Total:       o.Total,
		Items:       make([]trackingItem, len(o.Items)),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = trackingItem{Name: it.Name, Quantity: it.Quantity, Total: it.Total}
	}
	return resp
}

// --- Handlers ---

// Menu returns the restaurant profile and its available items. When the
// table query param is set the table must belong to the restaurant.
func (h *PublicHandler) Menu(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	ctx := r.Context()

	rest, err := h.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "restaurant not found")
			return
		}
		h.logger.WithError(err).Error("public menu: get restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := publicMenuResponse{
		Restaurant: publicRestaurant{
			ID:              rest.ID,
			Name:            rest.Name,
			Type:            rest.Type,
			Description:     rest.Description,
			Phone:           rest.Phone,
			Address:         rest.Address,
			OpeningHours:    rest.OpeningHours,
			AcceptingOrders: rest.Status == enum.RestaurantStatusActive,
		},
	}

	if raw := r.URL.Query().Get("table"); raw != "" {
		tableID, err := uuid.Parse(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid table ID")
			return
		}
		t, err := h.store.GetTable(ctx, database.GetTableParams{ID: tableID, RestaurantID: restaurantID})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeMessage(w, http.StatusNotFound, "table not found")
				return
			}
			h.logger.WithError(err).Error("public menu: get table")
			writeMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp.Table = &publicTable{ID: t.ID, TableNumber: t.TableNumber, Location: t.Location}
	}

	categories, err := h.store.ListMenuCategories(ctx, restaurantID)
	if err != nil {
		h.logger.WithError(err).Error("public menu: list categories")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	items, err := h.store.ListMenuItems(ctx, database.ListMenuItemsParams{
		RestaurantID:  restaurantID,
		Category:      textOrNull(r.URL.Query().Get("category")),
		AvailableOnly: true,
	})
	if err != nil {
		h.logger.WithError(err).Error("public menu: list items")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp.Categories = categories
	resp.Items = make([]menuItemResponse, len(items))
	for i, m := range items {
		resp.Items[i] = toMenuItemResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateOrder submits a customer cart as a pending order.
func (h *PublicHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "tid", "table")
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONLimit(w, r, &req, maxOrderBodyBytes) {
		return
	}
	if len(req.Items) > service.MaxOrderLines {
		writeError(w, h.logger, "create order", service.ErrTooManyLines)
		return
	}

	lines := make([]service.OrderLine, len(req.Items))
	for i, it := range req.Items {
		id, err := uuid.Parse(it.MenuItemID)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid menu_item_id")
			return
		}
		lines[i] = service.OrderLine{MenuItemID: id, Quantity: it.Quantity}
	}

	order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderRequest{
		RestaurantID: restaurantID,
		TableID:      tableID,
		Customer: service.CustomerInfo{
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Notes: req.Customer.Notes,
		},
		Lines: lines,
	})
	if err != nil {
		writeError(w, h.logger, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// TrackOrder returns the progress of an order to the customer who placed it.
func (h *PublicHandler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}
	order, err := h.orders.TrackOrder(r.Context(), orderID, r.URL.Query().Get("phone"))
	if err != nil {
		writeError(w, h.logger, "track order", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrackingResponse(order))
}
