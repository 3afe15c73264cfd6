package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/sirupsen/logrus"
)

// OrderManager is the staff side of the order lifecycle engine.
// Satisfied by *service.OrderService, which runs the authorization gate.
type OrderManager interface {
	ListOrders(ctx context.Context, actor *authz.Principal, params service.ListOrdersParams) ([]service.OrderView, error)
	GetOrder(ctx context.Context, actor *authz.Principal, restaurantID, orderID uuid.UUID) (*service.OrderView, error)
	AdvanceStatus(ctx context.Context, actor *authz.Principal, req service.AdvanceStatusRequest) (*service.OrderView, error)
}

// OrderHandler handles the staff order dashboard endpoints.
type OrderHandler struct {
	orders OrderManager
	logger *logrus.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders OrderManager, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}/status", h.UpdateStatus)
}

// --- Request types ---

type updateStatusRequest struct {
	Status string `json:"status"`
	// ExpectedStatus is the status the caller last saw. When it no longer
	// matches, the change is rejected with 409 and the caller re-reads.
	ExpectedStatus string `json:"expected_status"`
}

// --- Handlers ---

// List returns orders newest first. Query params: status (comma separated),
// limit, offset.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}

	params := service.ListOrdersParams{RestaurantID: restaurantID}
	for _, s := range strings.Split(r.URL.Query().Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			params.Statuses = append(params.Statuses, s)
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid offset")
			return
		}
		params.Offset = n
	}

	orders, err := h.orders.ListOrders(r.Context(), middleware.PrincipalFromContext(r.Context()), params)
	if err != nil {
		writeError(w, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []service.OrderView{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// Get returns a single order with its items.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), middleware.PrincipalFromContext(r.Context()), restaurantID, orderID)
	if err != nil {
		writeError(w, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus advances an order one step through its lifecycle.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	orderID, ok := urlUUID(w, r, "id", "order")
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeMessage(w, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.orders.AdvanceStatus(r.Context(), middleware.PrincipalFromContext(r.Context()), service.AdvanceStatusRequest{
		OrderID:      orderID,
		RestaurantID: restaurantID,
		Target:       req.Status,
		Expected:     req.ExpectedStatus,
	})
	if err != nil {
		writeError(w, h.logger, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
