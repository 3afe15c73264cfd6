package handler

import (
	"context"
	"errors"
	"fmt"
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

// RestaurantStore defines the database methods needed by restaurant handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type RestaurantStore interface {
	ListRestaurants(ctx context.Context) ([]database.Restaurant, error)
	GetRestaurant(ctx context.Context, id uuid.UUID) (database.Restaurant, error)
	CreateRestaurant(ctx context.Context, arg database.CreateRestaurantParams) (database.Restaurant, error)
	UpdateRestaurant(ctx context.Context, arg database.UpdateRestaurantParams) (database.Restaurant, error)
	UpdateRestaurantSettings(ctx context.Context, arg database.UpdateRestaurantSettingsParams) (database.Restaurant, error)
	DeleteRestaurant(ctx context.Context, id uuid.UUID) (int64, error)
}

// RestaurantHandler handles the restaurant registry.
type RestaurantHandler struct {
	store  RestaurantStore
	logger *logrus.Logger
}

// NewRestaurantHandler creates a new RestaurantHandler.
func NewRestaurantHandler(store RestaurantStore, logger *logrus.Logger) *RestaurantHandler {
	return &RestaurantHandler{store: store, logger: logger}
}

var superAdminOnly = authz.Requirement{Roles: []string{enum.UserRoleSuperAdmin}}

// RegisterRoutes registers the collection endpoints: /restaurants
func (h *RestaurantHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireAccess(superAdminOnly)).Get("/", h.List)
	r.With(middleware.RequireAccess(superAdminOnly)).Post("/", h.Create)
}

// RegisterScopedRoutes registers endpoints for one restaurant.
// Expected to be mounted inside a restaurant-scoped subrouter: /restaurants/{rid}
func (h *RestaurantHandler) RegisterScopedRoutes(r chi.Router) {
	r.With(middleware.RequireAccess(authz.Requirement{})).Get("/", h.Get)
	r.With(middleware.RequireAccess(superAdminOnly)).Put("/", h.Update)
	r.With(middleware.RequireAccess(superAdminOnly)).Delete("/", h.Delete)
	r.With(middleware.RequireAccess(authz.Requirement{
		Roles:      []string{enum.UserRoleRestaurantAdmin},
		Permission: enum.PermissionManageSettings,
	})).Put("/settings", h.UpdateSettings)
}

// --- Request / Response types ---

type restaurantRequest struct {
	Name         string                       `json:"name"`
	Type         string                       `json:"type"`
	Description  string                       `json:"description"`
	Phone        string                       `json:"phone"`
	Email        string                       `json:"email"`
	Website      string                       `json:"website"`
	Address      string                       `json:"address"`
	Status       string                       `json:"status"`
	OpeningHours database.OpeningHours        `json:"opening_hours"`
	Settings     *database.RestaurantSettings `json:"settings"`
}

type settingsRequest struct {
	OpeningHours database.OpeningHours        `json:"opening_hours"`
	Settings     *database.RestaurantSettings `json:"settings"`
}

type restaurantResponse struct {
	ID           uuid.UUID                   `json:"id"`
	Name         string                      `json:"name"`
	Type         string                      `json:"type"`
	Description  string                      `json:"description"`
	Phone        string                      `json:"phone"`
	Email        string                      `json:"email"`
	Website      string                      `json:"website"`
	Address      string                      `json:"address"`
	OpeningHours database.OpeningHours       `json:"opening_hours"`
	Settings     database.RestaurantSettings `json:"settings"`
	Status       string                      `json:"status"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func toRestaurantResponse(rest database.Restaurant) restaurantResponse {
	return restaurantResponse{
		ID:           rest.ID,
		Name:         rest.Name,
		Type:         rest.Type,
		Description:  rest.Description,
		Phone:        rest.Phone,
		Email:        rest.Email,
		Website:      rest.Website,
		Address:      rest.Address,
		OpeningHours: rest.OpeningHours,
		Settings:     rest.Settings,
		Status:       rest.Status,
		CreatedAt:    rest.CreatedAt,
		UpdatedAt:    rest.UpdatedAt,
	}
}

// --- Helpers ---

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func validateOpeningHours(hours database.OpeningHours) error {
	for day, h := range hours {
		if !weekdays[day] {
			return fmt.Errorf("unknown day %q in opening_hours", day)
		}
		if !h.IsOpen {
			continue
		}
		open, err := time.Parse("15:04", h.Open)
		if err != nil {
			return fmt.Errorf("invalid open time for %s", day)
		}
		closing, err := time.Parse("15:04", h.Close)
		if err != nil {
			return fmt.Errorf("invalid close time for %s", day)
		}
		if !closing.After(open) {
			return fmt.Errorf("close time must be after open time for %s", day)
		}
	}
	return nil
}

func validateSettings(s database.RestaurantSettings) error {
	if s.MaxTableReservationSize < 1 {
		return errors.New("maxTableReservationSize must be at least 1")
	}
	if s.OrderPreparationTime < 0 || s.DeliveryRadius < 0 {
		return errors.New("orderPreparationTime and deliveryRadius must not be negative")
	}
	return nil
}

// validateProfile normalises and checks the profile fields of req.
func validateProfile(req *restaurantRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.Status == "" {
		req.Status = enum.RestaurantStatusActive
	}
	if !enum.IsRestaurantStatus(req.Status) {
		return fmt.Errorf("invalid status %q", req.Status)
	}
	return nil
}

// --- Handlers ---

// List returns every restaurant.
func (h *RestaurantHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurants, err := h.store.ListRestaurants(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("list restaurants")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]restaurantResponse, len(restaurants))
	for i, rest := range restaurants {
		resp[i] = toRestaurantResponse(rest)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns one restaurant.
func (h *RestaurantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	rest, err := h.store.GetRestaurant(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "restaurant not found")
			return
		}
		h.logger.WithError(err).Error("get restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toRestaurantResponse(rest))
}

// Create registers a restaurant. Missing hours and settings get defaults.
func (h *RestaurantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req restaurantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateProfile(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	hours := req.OpeningHours
	if hours == nil {
		hours = database.DefaultOpeningHours()
	}
	settings := database.DefaultRestaurantSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if err := validateOpeningHours(hours); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSettings(settings); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rest, err := h.store.CreateRestaurant(r.Context(), database.CreateRestaurantParams{
		Name:         req.Name,
		Type:         req.Type,
		Description:  req.Description,
		Phone:        req.Phone,
		Email:        req.Email,
		Website:      req.Website,
		Address:      req.Address,
		OpeningHours: hours,
		Settings:     settings,
		Status:       req.Status,
	})
	if err != nil {
		h.logger.WithError(err).Error("create restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.WithFields(logrus.Fields{"restaurant_id": rest.ID, "name": rest.Name}).Info("restaurant created")
	writeJSON(w, http.StatusCreated, toRestaurantResponse(rest))
}

// Update replaces the profile and status of a restaurant.
func (h *RestaurantHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	var req restaurantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateProfile(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rest, err := h.store.UpdateRestaurant(r.Context(), database.UpdateRestaurantParams{
		ID:          id,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Phone:       req.Phone,
		Email:       req.Email,
		Website:     req.Website,
		Address:     req.Address,
		Status:      req.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "restaurant not found")
			return
		}
		h.logger.WithError(err).Error("update restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toRestaurantResponse(rest))
}

// UpdateSettings replaces opening hours and settings. Omitted parts keep
// their stored value.
func (h *RestaurantHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	current, err := h.store.GetRestaurant(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeMessage(w, http.StatusNotFound, "restaurant not found")
			return
		}
		h.logger.WithError(err).Error("get restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	hours := current.OpeningHours
	if req.OpeningHours != nil {
		hours = req.OpeningHours
	}
	settings := current.Settings
	if req.Settings != nil {
		settings = *req.Settings
	}
	if err := validateOpeningHours(hours); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateSettings(settings); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	rest, err := h.store.UpdateRestaurantSettings(r.Context(), database.UpdateRestaurantSettingsParams{
		ID:           id,
		OpeningHours: hours,
		Settings:     settings,
	})
	if err != nil {
		h.logger.WithError(err).Error("update restaurant settings")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toRestaurantResponse(rest))
}

// Delete removes a restaurant together with its staff, tables, menu and
// orders.
func (h *RestaurantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "rid", "restaurant")
	if !ok {
		return
	}
	n, err := h.store.DeleteRestaurant(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("delete restaurant")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if n == 0 {
		writeMessage(w, http.StatusNotFound, "restaurant not found")
		return
	}
	h.logger.WithField("restaurant_id", id).Warn("restaurant deleted")
	w.WriteHeader(http.StatusNoContent)
}
