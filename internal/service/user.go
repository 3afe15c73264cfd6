package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/restrona-pos/api/internal/auth"
	"github.com/restrona-pos/api/internal/authz"
	"github.com/restrona-pos/api/internal/database"
	"github.com/restrona-pos/api/internal/enum"
	"github.com/sirupsen/logrus"
)

// ErrInvalidCredentials is returned by the login flows. It deliberately
// does not say which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

var (
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrEmailTaken      = fmt.Errorf("%w: email already exists", ErrConflict)
	ErrUserEmail       = fmt.Errorf("%w: a valid email is required", ErrValidation)
	ErrUserName        = fmt.Errorf("%w: name is required", ErrValidation)
	ErrUserRole        = fmt.Errorf("%w: role must be restaurant_admin or waiter", ErrValidation)
	ErrUserRestaurant  = fmt.Errorf("%w: restaurant_id is required for restaurant staff", ErrValidation)
	ErrUserPermission  = fmt.Errorf("%w: unknown permission", ErrValidation)
	ErrWeakPassword    = fmt.Errorf("%w: %w", ErrValidation, auth.ErrWeakPassword)
	ErrWrongPassword   = fmt.Errorf("%w: current password is incorrect", ErrValidation)
	ErrDeleteSelf      = fmt.Errorf("%w: you cannot delete your own account", ErrValidation)
	ErrOTPWithoutPhone = fmt.Errorf("%w: phone is required to verify an otp", ErrValidation)
)

var (
	// userAdministration covers every account in the system.
	userAdministration = authz.Requirement{
		Roles:      []string{enum.UserRoleSuperAdmin},
		Permission: enum.PermissionManageUsers,
	}
	// staffAdministration lets a restaurant admin manage the waiters of
	// their own restaurant.
	staffAdministration = authz.Requirement{
		Roles:      []string{enum.UserRoleRestaurantAdmin},
		Permission: enum.PermissionManageStaff,
	}
)

// UserStore defines the DB methods needed by the identity store.
type UserStore interface {
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
	GetUserByPhone(ctx context.Context, phone string) (database.User, error)
	ListUsers(ctx context.Context, arg database.ListUsersParams) ([]database.User, error)
	UpdateUser(ctx context.Context, arg database.UpdateUserParams) (database.User, error)
	UpdateUserPassword(ctx context.Context, arg database.UpdateUserPasswordParams) (database.User, error)
	SetUserPhoneVerified(ctx context.Context, arg database.SetUserPhoneVerifiedParams) (database.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) (int64, error)
	GetRestaurant(ctx context.Context, id uuid.UUID) (database.Restaurant, error)
}

// PhoneVerifier consumes a one-time code sent to a phone.
type PhoneVerifier interface {
	Verify(ctx context.Context, phone, code string) error
}

type CreateUserInput struct {
	Email        string
	Password     string
	Name         string
	Role         string
	RestaurantID uuid.NullUUID
	// Permissions nil means the role defaults.
	Permissions []string
	Phone       string
	// OTP, when set, must verify Phone; the account is then created with
	// a verified phone.
	OTP string
}

// UpdateUserInput is a partial update. Empty strings and nil pointers keep
// the stored value.
type UpdateUserInput struct {
	Email        string
	Name         string
	Role         string
	RestaurantID uuid.NullUUID
	Permissions  []string
	Phone        *string
	IsActive     *bool
}

type UserFilter struct {
	RestaurantID uuid.NullUUID
	Role         string
}

// UserService is the identity and role store.
type UserService struct {
	store    UserStore
	verifier PhoneVerifier
	logger   *logrus.Logger
}

func NewUserService(store UserStore, verifier PhoneVerifier, logger *logrus.Logger) *UserService {
	return &UserService{store: store, verifier: verifier, logger: logger}
}

// PrincipalFromUser converts a stored user into the actor seen by the
// authorization gate.
func PrincipalFromUser(u database.User) *authz.Principal {
	return &authz.Principal{
		UserID:       u.ID,
		Name:         u.Name,
		Role:         u.Role,
		RestaurantID: fromPgUUID(u.RestaurantID),
		Permissions:  append([]string(nil), u.Permissions...),
		IsActive:     u.IsActive,
	}
}

// LoadPrincipal reads the current role, tenant and permissions of a user.
func (s *UserService) LoadPrincipal(ctx context.Context, id uuid.UUID) (*authz.Principal, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return PrincipalFromUser(u), nil
}

// Login checks an email and password pair.
func (s *UserService) Login(ctx context.Context, email, password string) (database.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return database.User{}, ErrInvalidCredentials
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.User{}, ErrInvalidCredentials
		}
		return database.User{}, persistenceError("get user by email", err)
	}
	if !u.IsActive || !auth.CheckPassword(u.HashedPassword, password) {
		return database.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// LoginWithPhone verifies an OTP and returns the active account that owns
// the phone, marking the phone verified.
func (s *UserService) LoginWithPhone(ctx context.Context, phone, code string) (database.User, error) {
	phone = strings.TrimSpace(phone)
	if err := s.verifier.Verify(ctx, phone, code); err != nil {
		return database.User{}, err
	}
	u, err := s.store.GetUserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.User{}, ErrInvalidCredentials
		}
		return database.User{}, persistenceError("get user by phone", err)
	}
	if !u.IsActive {
		return database.User{}, ErrInvalidCredentials
	}
	if u.PhoneVerified {
		return u, nil
	}
	u, err = s.store.SetUserPhoneVerified(ctx, database.SetUserPhoneVerifiedParams{ID: u.ID, PhoneVerified: true})
	if err != nil {
		return database.User{}, persistenceError("set phone verified", err)
	}
	return u, nil
}

// GetUser returns one account. scope, when valid, restricts the lookup to a
// restaurant.
func (s *UserService) GetUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID) (database.User, error) {
	u, err := s.scopedUser(ctx, scope, id)
	if err != nil {
		return database.User{}, err
	}
	if err := authorizeAccount(actor, u.Role, fromPgUUID(u.RestaurantID)); err != nil {
		return database.User{}, err
	}
	return u, nil
}

// ListUsers lists accounts. Restaurant admins only see the waiters of
// their own restaurant.
func (s *UserService) ListUsers(ctx context.Context, actor *authz.Principal, filter UserFilter) ([]database.User, error) {
	if filter.Role != "" && !enum.IsRole(filter.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, filter.Role)
	}
	if !authz.Authorize(actor, userAdministration).Allowed {
		if !filter.RestaurantID.Valid {
			return nil, authz.Check(actor, userAdministration)
		}
		if err := authz.Check(actor, staffAdministration.ForRestaurant(filter.RestaurantID.UUID)); err != nil {
			return nil, err
		}
		filter.Role = enum.UserRoleWaiter
	}

	users, err := s.store.ListUsers(ctx, database.ListUsersParams{
		RestaurantID: toPgUUID(filter.RestaurantID),
		Role:         optionalText(filter.Role),
	})
	if err != nil {
		return nil, persistenceError("list users", err)
	}
	return users, nil
}

// CreateUser provisions a restaurant admin or waiter with credentials.
func (s *UserService) CreateUser(ctx context.Context, actor *authz.Principal, in CreateUserInput) (database.User, error) {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return database.User{}, err
	}
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Role != enum.UserRoleRestaurantAdmin && in.Role != enum.UserRoleWaiter {
		return database.User{}, ErrUserRole
	}
	if err := authorizeAccount(actor, in.Role, in.RestaurantID); err != nil {
		return database.User{}, err
	}
	if !validEmail(in.Email) {
		return database.User{}, ErrUserEmail
	}
	if in.Name == "" {
		return database.User{}, ErrUserName
	}
	if !in.RestaurantID.Valid {
		return database.User{}, ErrUserRestaurant
	}
	perms, err := normalizePermissions(in.Permissions, in.Role)
	if err != nil {
		return database.User{}, err
	}
	if err := checkGrantable(actor, perms); err != nil {
		return database.User{}, err
	}
	hashed, err := auth.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return database.User{}, ErrWeakPassword
		}
		return database.User{}, fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.GetRestaurant(ctx, in.RestaurantID.UUID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.User{}, ErrRestaurantNotFound
		}
		return database.User{}, persistenceError("get restaurant", err)
	}

	verified := false
	if in.OTP != "" {
		if in.Phone == "" {
			return database.User{}, ErrOTPWithoutPhone
		}
		if err := s.verifier.Verify(ctx, in.Phone, in.OTP); err != nil {
			return database.User{}, err
		}
		verified = true
	}

	u, err := s.store.CreateUser(ctx, database.CreateUserParams{
		Email:          in.Email,
		HashedPassword: hashed,
		Name:           in.Name,
		Role:           in.Role,
		RestaurantID:   toPgUUID(in.RestaurantID),
		Permissions:    perms,
		Phone:          in.Phone,
		PhoneVerified:  verified,
		CreatedBy:      pgtype.UUID{Bytes: actor.UserID, Valid: true},
	})
	if err != nil {
		if isUniqueViolation(err) {
			return database.User{}, ErrEmailTaken
		}
		return database.User{}, persistenceError("create user", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":       u.ID,
		"role":          u.Role,
		"restaurant_id": in.RestaurantID.UUID,
		"created_by":    actor.UserID,
	}).Info("user created")
	return u, nil
}

// UpdateUser applies a partial update. scope, when valid, restricts the
// target to that restaurant.
func (s *UserService) UpdateUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID, in UpdateUserInput) (database.User, error) {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return database.User{}, err
	}
	u, err := s.scopedUser(ctx, scope, id)
	if err != nil {
		return database.User{}, err
	}
	if err := authorizeAccount(actor, u.Role, fromPgUUID(u.RestaurantID)); err != nil {
		return database.User{}, err
	}

	params := database.UpdateUserParams{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		RestaurantID: u.RestaurantID,
		Permissions:  u.Permissions,
		Phone:        u.Phone,
		IsActive:     u.IsActive,
	}
	if e := normalizeEmail(in.Email); e != "" {
		if !validEmail(e) {
			return database.User{}, ErrUserEmail
		}
		params.Email = e
	}
	if n := strings.TrimSpace(in.Name); n != "" {
		params.Name = n
	}
	if in.Role != "" && in.Role != u.Role {
		if u.Role == enum.UserRoleSuperAdmin || (in.Role != enum.UserRoleRestaurantAdmin && in.Role != enum.UserRoleWaiter) {
			return database.User{}, ErrUserRole
		}
		params.Role = in.Role
	}
	if in.RestaurantID.Valid && u.Role != enum.UserRoleSuperAdmin {
		params.RestaurantID = toPgUUID(in.RestaurantID)
	}
	// Moving or promoting an account needs the same rights over the result.
	if err := authorizeAccount(actor, params.Role, fromPgUUID(params.RestaurantID)); err != nil {
		return database.User{}, err
	}
	if in.Permissions != nil {
		perms, err := normalizePermissions(in.Permissions, params.Role)
		if err != nil {
			return database.User{}, err
		}
		if err := checkGrantable(actor, perms); err != nil {
			return database.User{}, err
		}
		params.Permissions = perms
	}
	if in.Phone != nil {
		params.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.IsActive != nil {
		params.IsActive = *in.IsActive
	}

	updated, err := s.store.UpdateUser(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.User{}, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return database.User{}, ErrEmailTaken
		}
		return database.User{}, persistenceError("update user", err)
	}
	return updated, nil
}

// DeleteUser removes an account and its profile. They live in one row, so
// there is nothing left to reconcile afterwards.
func (s *UserService) DeleteUser(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID) error {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return err
	}
	if actor.UserID == id {
		return ErrDeleteSelf
	}
	u, err := s.scopedUser(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := authorizeAccount(actor, u.Role, fromPgUUID(u.RestaurantID)); err != nil {
		return err
	}
	n, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return persistenceError("delete user", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	s.logger.WithFields(logrus.Fields{"user_id": id, "deleted_by": actor.UserID}).Info("user deleted")
	return nil
}

// ResetPassword sets a new password for another account and records who
// did it.
func (s *UserService) ResetPassword(ctx context.Context, actor *authz.Principal, scope uuid.NullUUID, id uuid.UUID, password string) error {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return err
	}
	u, err := s.scopedUser(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := authorizeAccount(actor, u.Role, fromPgUUID(u.RestaurantID)); err != nil {
		return err
	}
	return s.setPassword(ctx, actor, u.ID, password)
}

// ChangeOwnPassword lets any signed-in user replace their password.
func (s *UserService) ChangeOwnPassword(ctx context.Context, actor *authz.Principal, current, next string) error {
	if err := authz.Check(actor, authz.Requirement{}); err != nil {
		return err
	}
	u, err := s.getUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.HashedPassword, current) {
		return ErrWrongPassword
	}
	return s.setPassword(ctx, actor, u.ID, next)
}

func (s *UserService) setPassword(ctx context.Context, actor *authz.Principal, id uuid.UUID, password string) error {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return ErrWeakPassword
		}
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.UpdateUserPassword(ctx, database.UpdateUserPasswordParams{
		ID:                id,
		HashedPassword:    hashed,
		PasswordUpdatedBy: pgtype.UUID{Bytes: actor.UserID, Valid: true},
	}); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return persistenceError("update password", err)
	}
	s.logger.WithFields(logrus.Fields{"user_id": id, "updated_by": actor.UserID}).Info("password updated")
	return nil
}

func (s *UserService) getUser(ctx context.Context, id uuid.UUID) (database.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.User{}, ErrUserNotFound
		}
		return database.User{}, persistenceError("get user", err)
	}
	return u, nil
}

func (s *UserService) scopedUser(ctx context.Context, scope uuid.NullUUID, id uuid.UUID) (database.User, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		return database.User{}, err
	}
	if scope.Valid && (!u.RestaurantID.Valid || uuid.UUID(u.RestaurantID.Bytes) != scope.UUID) {
		return database.User{}, ErrUserNotFound
	}
	return u, nil
}

// authorizeAccount decides whether actor may manage an account with the
// given role and restaurant. Super admins manage everyone; restaurant
// admins manage the waiters of their own restaurant.
func authorizeAccount(actor *authz.Principal, role string, restaurantID uuid.NullUUID) error {
	d := authz.Authorize(actor, userAdministration)
	if d.Allowed {
		return nil
	}
	if d.Reason == authz.ReasonUnauthenticated || role != enum.UserRoleWaiter || !restaurantID.Valid {
		return d.Err()
	}
	return authz.Check(actor, staffAdministration.ForRestaurant(restaurantID.UUID))
}

func normalizePermissions(perms []string, role string) ([]string, error) {
	if perms == nil {
		return authz.DefaultPermissions(role), nil
	}
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if !enum.IsPermission(p) {
			return nil, fmt.Errorf("%w: %q", ErrUserPermission, p)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// checkGrantable denies handing out a permission the actor does not hold
// themselves. Super admins hold every permission.
func checkGrantable(actor *authz.Principal, perms []string) error {
	if !authz.HasAllPermissions(actor, perms) {
		return authz.Deny(authz.ReasonMissingPermission).Err()
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

// isUniqueViolation checks if the error is a unique constraint violation
// (pgconn error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
