package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/middleware"
	"github.com/restrona-pos/api/internal/service"
	"github.com/sirupsen/logrus"
)

// Authenticator is the part of the user service the auth endpoints need.
// Satisfied by *service.UserService.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (database.User, error)
	LoginWithPhone(ctx context.Context, phone, code string) (database.User, error)
	LoadPrincipal(ctx context.Context, id uuid.UUID) (*authz.Principal, error)
	ChangeOwnPassword(ctx context.Context, actor *authz.Principal, current, next string) error
}

// CodeSender issues one-time codes. Satisfied by *service.OTPService.
type CodeSender interface {
	Send(ctx context.Context, phone string) (time.Time, error)
}

// TokenIssuer mints and checks token pairs. Satisfied by *auth.Issuer.
type TokenIssuer interface {
	AccessToken(userID uuid.UUID, restaurantID uuid.NullUUID, role string) (string, error)
	RefreshToken(userID uuid.UUID) (string, error)
	ValidateRefresh(tokenStr string) (uuid.UUID, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users  Authenticator
	codes  CodeSender
	tokens TokenIssuer
	logger *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users Authenticator, codes CodeSender, tokens TokenIssuer, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{users: users, codes: codes, tokens: tokens, logger: logger}
}

// RegisterRoutes registers the unauthenticated auth endpoints.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/otp/send", h.SendOTP)
	r.Post("/auth/otp/verify", h.VerifyOTP)
}

// RegisterProtectedRoutes registers endpoints that need an authenticated
// principal in the context.
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/auth/me", h.Me)
	r.Put("/auth/password", h.ChangePassword)
}

// --- Request / Response types ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type otpSendRequest struct {
	Phone string `json:"phone"`
}

type otpSendResponse struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

type otpVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         meResponse `json:"user"`
}

type meResponse struct {
	ID           uuid.UUID          `json:"id"`
	Name         string             `json:"name"`
	Role         string             `json:"role"`
	RestaurantID *uuid.UUID         `json:"restaurant_id"`
	Capabilities authz.Capabilities `json:"capabilities"`
}

func toMeResponse(p *authz.Principal) meResponse {
	return meResponse{
		ID:           p.UserID,
		Name:         p.Name,
		Role:         p.Role,
		RestaurantID: nullableUUID(p.RestaurantID),
		Capabilities: authz.CapabilitiesOf(p),
	}
}

// --- Handlers ---

// Login handles email + password authentication.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, "login", err)
		return
	}
	h.respondWithTokens(w, service.PrincipalFromUser(user))
}

// Refresh exchanges a valid refresh token for a new token pair. The account
// is re-read so a deactivated user cannot refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeMessage(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	userID, err := h.tokens.ValidateRefresh(req.RefreshToken)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	principal, err := h.users.LoadPrincipal(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeMessage(w, http.StatusUnauthorized, "user not found")
			return
		}
		writeError(w, h.logger, "refresh token", err)
		return
	}
	if !principal.IsActive {
		writeMessage(w, http.StatusUnauthorized, "account is inactive")
		return
	}
	h.respondWithTokens(w, principal)
}

// SendOTP issues a verification code for a phone number.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expiresAt, err := h.codes.Send(r.Context(), req.Phone)
	if err != nil {
		writeError(w, h.logger, "send otp", err)
		return
	}
	writeJSON(w, http.StatusOK, otpSendResponse{Phone: req.Phone, ExpiresAt: expiresAt})
}

// VerifyOTP consumes a code and signs in the account that owns the phone.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" || req.Code == "" {
		writeMessage(w, http.StatusBadRequest, "phone and code are required")
		return
	}
	user, err := h.users.LoginWithPhone(r.Context(), req.Phone, req.Code)
	if err != nil {
		writeError(w, h.logger, "verify otp", err)
		return
	}
	h.respondWithTokens(w, service.PrincipalFromUser(user))
}

// Me returns the current principal and its capabilities.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		middleware.WriteDenied(w, authz.ReasonUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(principal))
}

// ChangePassword updates the caller's own password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.users.ChangeOwnPassword(r.Context(), middleware.PrincipalFromContext(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(w, h.logger, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *AuthHandler) respondWithTokens(w http.ResponseWriter, p *authz.Principal) {
	accessToken, err := h.tokens.AccessToken(p.UserID, p.RestaurantID, p.Role)
	if err != nil {
		writeError(w, h.logger, "sign access token", err)
		return
	}

	refreshToken, err := h.tokens.RefreshToken(p.UserID)
	if err != nil {
		writeError(w, h.logger, "sign refresh token", err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         toMeResponse(p),
	})
}
