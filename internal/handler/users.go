package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/sirupsen/logrus"
)

// UserManager is the account administration surface of the user service.
// Satisfied by *service.UserService.
type UserManager interface {
	GetUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID) (database.User, error)
	ListUsers(ctx context.Context, actor *authz.Principal, filter service.UserFilter) ([]database.User, error)
	CreateUser(ctx context.Context, actor *authz.Principal, in service.CreateUserInput) (database.User, error)
	UpdateUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID, in service.UpdateUserInput) (database.User, error)
	DeleteUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID) error
	ResetPassword(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID, password string) error
}

// UserHandler handles account endpoints. Mounted twice: at /users for super
// admins and at /restaurants/{rid}/staff for restaurant admins, where the
// restaurant in the path scopes every lookup.
type UserHandler struct {
	users  UserManager
	logger *logrus.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserManager, logger *logrus.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// RegisterRoutes registers user CRUD endpoints on the given Chi router.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Put("/{id}/password", h.ResetPassword)
}

// --- Request / Response types ---

type createUserRequest struct {
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	RestaurantID string   `json:"restaurant_id"`
	Permissions  []string `json:"permissions"`
	Phone        string   `json:"phone"`
	OTP          string   `json:"otp"`
}

type updateUserRequest struct {
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	RestaurantID string   `json:"restaurant_id"`
	Permissions  []string `json:"permissions"`
	Phone        *string  `json:"phone"`
	IsActive     *bool    `json:"is_active"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type userResponse struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	RestaurantID  *uuid.UUID `json:"restaurant_id"`
	Permissions   []string   `json:"permissions"`
	Phone         string     `json:"phone"`
	PhoneVerified bool       `json:"phone_verified"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toUserResponse(u database.User) userResponse {
	resp := userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		Permissions:   u.Permissions,
		Phone:         u.Phone,
		PhoneVerified: u.PhoneVerified,
		IsActive:      u.IsActive,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	if u.RestaurantID.Valid {
		id := uuid.UUID(u.RestaurantID.Bytes)
		resp.RestaurantID = &id
	}
	return resp
}

// bodyRestaurant resolves the restaurant of a create/update body. On a
// staff route the path wins over the body.
func bodyRestaurant(w http.ResponseWriter, r *http.Request, raw string) (uuid.NullUUID, bool) {
	if scope := restaurantScope(r); scope.Valid {
		return scope, true
	}
	if raw == "" {
		return uuid.NullUUID{}, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid restaurant_id")
		return uuid.NullUUID{}, false
	}
	return uuid.NullUUID{UUID: id, Valid: true}, true
}

// --- Handlers ---

// List returns accounts. On a staff route only the restaurant's waiters
// are returned.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := service.UserFilter{
		RestaurantID: restaurantScope(r),
		Role:         r.URL.Query().Get("role"),
	}
	if !filter.RestaurantID.Valid {
		if raw := r.URL.Query().Get("restaurant_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeMessage(w, http.StatusBadRequest, "invalid restaurant_id")
				return
			}
			filter.RestaurantID = uuid.NullUUID{UUID: id, Valid: true}
		}
	}

	users, err := h.users.ListUsers(r.Context(), middleware.PrincipalFromContext(r.Context()), filter)
	if err != nil {
		writeError(w, h.logger, "list users", err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single account.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "user")
	if !ok {
		return
	}
	u, err := h.users.GetUser(r.Context(), middleware.PrincipalFromContext(r.Context()), restaurantScope(r), id)
	if err != nil {
		writeError(w, h.logger, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Create provisions an account. Staff routes create waiters unless a role
// is given.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	restaurantID, ok := bodyRestaurant(w, r, req.RestaurantID)
	if !ok {
		return
	}
	if req.Role == "" && restaurantScope(r).Valid {
		req.Role = enum.UserRoleWaiter
	}

	u, err := h.users.CreateUser(r.Context(), middleware.PrincipalFromContext(r.Context()), service.CreateUserInput{
		Email:        req.Email,
		Password:     req.Password,
		Name:         req.Name,
		Role:         req.Role,
		RestaurantID: restaurantID,
		Permissions:  req.Permissions,
		Phone:        req.Phone,
		OTP:          req.OTP,
	})
	if err != nil {
		writeError(w, h.logger, "create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// Update applies a partial update to an account.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "user")
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var restaurantID uuid.NullUUID
	if req.RestaurantID != "" {
		parsed, err := uuid.Parse(req.RestaurantID)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid restaurant_id")
			return
		}
		restaurantID = uuid.NullUUID{UUID: parsed, Valid: true}
	}

	u, err := h.users.UpdateUser(r.Context(), middleware.PrincipalFromContext(r.Context()), restaurantScope(r), id, service.UpdateUserInput{
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		RestaurantID: restaurantID,
		Permissions:  req.Permissions,
		Phone:        req.Phone,
		IsActive:     req.IsActive,
	})
	if err != nil {
		writeError(w, h.logger, "update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Delete removes an account and its profile.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "user")
	if !ok {
		return
	}
	if err := h.users.DeleteUser(r.Context(), middleware.PrincipalFromContext(r.Context()), restaurantScope(r), id); err != nil {
		writeError(w, h.logger, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword sets a new password for another account.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "user")
	if !ok {
		return
	}
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.users.ResetPassword(r.Context(), middleware.PrincipalFromContext(r.Context()), restaurantScope(r), id, req.Password); err != nil {
		writeError(w, h.logger, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
