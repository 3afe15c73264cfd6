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
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/sirupsen/logrus"
)

// TableStore defines the database methods needed by table handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type TableStore interface {
	ListTables(ctx context.Context, restaurantID uuid.UUID) ([]database.RestaurantTable, error)
	GetTable(ctx context.Context, arg database.GetTableParams) (database.RestaurantTable, error)
	CreateTable(ctx context.Context, arg database.CreateTableParams) (database.RestaurantTable, error)
	UpdateTable(ctx context.Context, arg database.UpdateTableParams) (database.RestaurantTable, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.RestaurantTable, error)
	DeleteTable(ctx context.Context, arg database.GetTableParams) (int64, error)
}

// TableHandler handles the table registry.
type TableHandler struct {
	store  TableStore
	logger *logrus.Logger
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(store TableStore, logger *logrus.Logger) *TableHandler {
	return &TableHandler{store: store, logger: logger}
}

// RegisterRoutes registers table endpoints.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}/tables
func (h *TableHandler) RegisterRoutes(r chi.Router) {
	manage := middleware.RequireAccess(authz.Requirement{Permission: enum.PermissionManageTables})

	r.With(middleware.RequireAccess(authz.Requirement{})).Get("/", h.List)
	r.With(middleware.RequireAccess(authz.Requirement{})).Get("/{id}", h.Get)
	r.With(manage).Post("/", h.Create)
	r.With(manage).Put("/{id}", h.Update)
	r.With(manage).Delete("/{id}", h.Delete)
	// Floor staff may mark a table reserved or free it.
	r.With(middleware.RequireAccess(authz.Requirement{
		AnyOf: []string{enum.PermissionManageTables, enum.PermissionManageOrders},
	})).Patch("/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type tableRequest struct {
	TableNumber string `json:"table_number"`
	Capacity    int32  `json:"capacity"`
	Status      string `json:"status"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

type tableStatusRequest struct {
	Status string `json:"status"`
}

type tableResponse struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	TableNumber  string    `json:"table_number"`
	Capacity     int32     `json:"capacity"`
	Status       string    `json:"status"`
	Location     string    `json:"location"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toTableResponse(t database.RestaurantTable) tableResponse {
	return tableResponse{
		ID:           t.ID,
		RestaurantID: t.RestaurantID,
		TableNumber:  t.TableNumber,
		Capacity:     t.Capacity,
		Status:       t.Status,
		Location:     t.Location,
		Description:  t.Description,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// --- Handlers ---

// List returns the restaurant's tables ordered by number.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tables, err := h.store.ListTables(r.Context(), restaurantID)
	if err != nil {
		h.logger.WithError(err).Error("list tables")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]tableResponse, len(tables))
	for i, t := range tables {
		resp[i] = toTableResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single table.
func (h *TableHandler) Get(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "id", "table")
	if !ok {
		return
	}
	t, err := h.store.GetTable(r.Context(), database.GetTableParams{ID: tableID, RestaurantID: restaurantID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "table not found")
			return
		}
		h.logger.WithError(err).Error("get table")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(t))
}

// Create adds a table. Table numbers are unique per restaurant.
func (h *TableHandler) Create(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	var req tableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TableNumber = strings.TrimSpace(req.TableNumber)
	if req.TableNumber == "" {
		writeMessage(w, http.StatusBadRequest, "table_number is required")
		return
	}
	if req.Capacity == 0 {
		req.Capacity = 4
	}
	if req.Capacity < 1 {
		writeMessage(w, http.StatusBadRequest, "capacity must be at least 1")
		return
	}
	if req.Status == "" {
		req.Status = enum.TableStatusAvailable
	}
	if !enum.IsTableStatus(req.Status) {
		writeMessage(w, http.StatusBadRequest, "invalid table status")
		return
	}

	t, err := h.store.CreateTable(r.Context(), database.CreateTableParams{
		RestaurantID: restaurantID,
		TableNumber:  req.TableNumber,
		Capacity:     req.Capacity,
		Status:       req.Status,
		Location:     req.Location,
		Description:  req.Description,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeMessage(w, http.StatusConflict, "table number already exists")
			return
		}
		h.logger.WithError(err).Error("create table")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toTableResponse(t))
}

// Update replaces the descriptive fields of a table. Status has its own
// endpoint.
func (h *TableHandler) Update(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "id", "table")
	if !ok {
		return
	}
	var req tableRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TableNumber = strings.TrimSpace(req.TableNumber)
	if req.TableNumber == "" {
		writeMessage(w, http.StatusBadRequest, "table_number is required")
		return
	}
	if req.Capacity < 1 {
		writeMessage(w, http.StatusBadRequest, "capacity must be at least 1")
		return
	}

	t, err := h.store.UpdateTable(r.Context(), database.UpdateTableParams{
		ID:           tableID,
		RestaurantID: restaurantID,
		TableNumber:  req.TableNumber,
		Capacity:     req.Capacity,
		Location:     req.Location,
		Description:  req.Description,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "table not found")
			return
		}
		if isUniqueViolation(err) {
			writeMessage(w, http.StatusConflict, "table number already exists")
			return
		}
		h.logger.WithError(err).Error("update table")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(t))
}

// UpdateStatus sets the occupancy status of a table.
func (h *TableHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "id", "table")
	if !ok {
		return
	}
	var req tableStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !enum.IsTableStatus(req.Status) {
		writeMessage(w, http.StatusBadRequest, "invalid table status")
		return
	}

	t, err := h.store.UpdateTableStatus(r.Context(), database.UpdateTableStatusParams{
		ID:           tableID,
		RestaurantID: restaurantID,
		Status:       req.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "table not found")
			return
		}
		h.logger.WithError(err).Error("update table status")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(t))
}

// Delete removes a table that no order refers to.
func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	tableID, ok := urlUUID(w, r, "id", "table")
	if !ok {
		return
	}
	params := database.GetTableParams{ID: tableID, RestaurantID: restaurantID}
	n, err := h.store.DeleteTable(r.Context(), params)
	if err != nil {
		h.logger.WithError(err).Error("delete table")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if n == 0 {
		// Tell a missing table apart from one that still has orders.
		if _, err := h.store.GetTable(r.Context(), params); err == nil {
			writeMessage(w, http.StatusConflict, "table has orders; set it to maintenance instead")
			return
		}
		writeMessage(w, http.StatusNotFound, "table not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
