package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MenuStore defines the database methods needed by menu handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuStore interface {
	ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error)
	ListMenuCategories(ctx context.Context, restaurantID uuid.UUID) ([]string, error)
	GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
	CreateMenuItem(ctx context.Context, arg database.CreateMenuItemParams) (database.MenuItem, error)
	UpdateMenuItem(ctx context.Context, arg database.UpdateMenuItemParams) (database.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, arg database.SetMenuItemAvailabilityParams) (database.MenuItem, error)
	DeleteMenuItem(ctx context.Context, arg database.GetMenuItemParams) (int64, error)
}

// MenuHandler handles menu item CRUD endpoints.
type MenuHandler struct {
	store  MenuStore
	logger *logrus.Logger
}

// NewMenuHandler creates a new MenuHandler.
func NewMenuHandler(store MenuStore, logger *logrus.Logger) *MenuHandler {
	return &MenuHandler{store: store, logger: logger}
}

// RegisterRoutes registers menu item endpoints on the given Chi router.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}/menu-items
func (h *MenuHandler) RegisterRoutes(r chi.Router) {
	manage := middleware.RequireAccess(authz.Requirement{Permission: enum.PermissionManageMenus})

	r.With(middleware.RequireAccess(authz.Requirement{})).Get("/", h.List)
	r.With(middleware.RequireAccess(authz.Requirement{})).Get("/{id}", h.Get)
	r.With(manage).Post("/", h.Create)
	r.With(manage).Put("/{id}", h.Update)
	r.With(manage).Patch("/{id}/availability", h.SetAvailability)
	r.With(manage).Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type menuItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"image_url"`
	IsAvailable *bool  `json:"is_available"`
}

type availabilityRequest struct {
	IsAvailable bool `json:"is_available"`
}

type menuItemResponse struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        string    `json:"price"`
	Category     string    `json:"category"`
	ImageURL     *string   `json:"image_url"`
	IsAvailable  bool      `json:"is_available"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toMenuItemResponse(m database.MenuItem) menuItemResponse {
	resp := menuItemResponse{
		ID:           m.ID,
		RestaurantID: m.RestaurantID,
		Name:         m.Name,
		Description:  m.Description,
		Price:        service.NumericString(m.Price),
		Category:     m.Category,
		IsAvailable:  m.IsAvailable,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.ImageUrl.Valid {
		resp.ImageURL = &m.ImageUrl.String
	}
	return resp
}

// --- Helpers ---

var errNegativePrice = errors.New("negative price")

func parsePrice(s string) (pgtype.Numeric, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return pgtype.Numeric{}, err
	}
	if d.IsNegative() {
		return pgtype.Numeric{}, errNegativePrice
	}
	var n pgtype.Numeric
	if err := n.Scan(d.StringFixed(2)); err != nil {
		return pgtype.Numeric{}, err
	}
	return n, nil
}

func textOrNull(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	return pgtype.Text{String: s, Valid: s != ""}
}

// validate checks and normalises a create/update body, writing a 400 on
// failure.
func (req *menuItemRequest) validate(w http.ResponseWriter) (pgtype.Numeric, bool) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return pgtype.Numeric{}, false
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "price must be a non-negative decimal")
		return pgtype.Numeric{}, false
	}
	return price, true
}

// --- Handlers ---

// List returns the restaurant's menu items. Query params: category,
// available=true.
func (h *MenuHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}

	items, err := h.store.ListMenuItems(r.Context(), database.ListMenuItemsParams{
		RestaurantID:  restaurantID,
		Category:      textOrNull(r.URL.Query().Get("category")),
		AvailableOnly: r.URL.Query().Get("available") == "true",
	})
	if err != nil {
		h.logger.WithError(err).Error("list menu items")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]menuItemResponse, len(items))
	for i, m := range items {
		resp[i] = toMenuItemResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single menu item.
func (h *MenuHandler) Get(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "id", "menu item")
	if !ok {
		return
	}

	m, err := h.store.GetMenuItem(r.Context(), database.GetMenuItemParams{ID: itemID, RestaurantID: restaurantID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "menu item not found")
			return
		}
		h.logger.WithError(err).Error("get menu item")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(m))
}

// Create adds a menu item. New items are available unless stated otherwise.
func (h *MenuHandler) Create(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	var req menuItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, ok := req.validate(w)
	if !ok {
		return
	}
	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}

	m, err := h.store.CreateMenuItem(r.Context(), database.CreateMenuItemParams{
		RestaurantID: restaurantID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        price,
		Category:     req.Category,
		ImageUrl:     textOrNull(req.ImageURL),
		IsAvailable:  available,
	})
	if err != nil {
		h.logger.WithError(err).Error("create menu item")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toMenuItemResponse(m))
}

// Update replaces a menu item. Orders keep the name and price they were
// placed with.
func (h *MenuHandler) Update(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "id", "menu item")
	if !ok {
		return
	}
	var req menuItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, ok := req.validate(w)
	if !ok {
		return
	}
	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}

	m, err := h.store.UpdateMenuItem(r.Context(), database.UpdateMenuItemParams{
		ID:           itemID,
		RestaurantID: restaurantID,
		Name:         req.Name,
		Description:  req.Description,
		Price:        price,
		Category:     req.Category,
		ImageUrl:     textOrNull(req.ImageURL),
		IsAvailable:  available,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "menu item not found")
			return
		}
		h.logger.WithError(err).Error("update menu item")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(m))
}

// SetAvailability toggles whether customers can order an item.
func (h *MenuHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "id", "menu item")
	if !ok {
		return
	}
	var req availabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.store.SetMenuItemAvailability(r.Context(), database.SetMenuItemAvailabilityParams{
		ID:           itemID,
		RestaurantID: restaurantID,
		IsAvailable:  req.IsAvailable,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "menu item not found")
			return
		}
		h.logger.WithError(err).Error("set menu item availability")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(m))
}

// Delete removes a menu item that was never ordered.
func (h *MenuHandler) Delete(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	itemID, ok := urlUUID(w, r, "id", "menu item")
	if !ok {
		return
	}
	params := database.GetMenuItemParams{ID: itemID, RestaurantID: restaurantID}
	n, err := h.store.DeleteMenuItem(r.Context(), params)
	if err != nil {
		h.logger.WithError(err).Error("delete menu item")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if n == 0 {
		if _, err := h.store.GetMenuItem(r.Context(), params); err == nil {
			writeMessage(w, http.StatusConflict, "menu item has been ordered; mark it unavailable instead")
			return
		}
		writeMessage(w, http.StatusNotFound, "menu item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
