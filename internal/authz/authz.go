// Package authz decides whether a principal may perform an action on a
// restaurant-scoped resource. Every mutating path in the API consults
// Authorize; client-side checks are hints only.
package authz

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/restrona-pos/api/internal/enum"
)

// Reason explains a denial.
type Reason string

const (
	ReasonUnauthenticated   Reason = "UNAUTHENTICATED"
	ReasonWrongRole         Reason = "WRONG_ROLE"
	ReasonMissingPermission Reason = "MISSING_PERMISSION"
	ReasonTenantMismatch    Reason = "TENANT_MISMATCH"
)

// ErrDenied matches every *DeniedError via errors.Is.
var ErrDenied = errors.New("access denied")

// DeniedError is returned when the gate rejects a request.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return "access denied: " + string(e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Principal is the authenticated actor of a request. It is loaded from the
// user store for each request and passed explicitly to the services.
type Principal struct {
	UserID       uuid.UUID
	Name         string
	Role         string
	RestaurantID uuid.NullUUID
	Permissions  []string
	IsActive     bool
}

// IsSuperAdmin reports whether p can access everything.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == enum.UserRoleSuperAdmin
}

// Requirement describes what an action needs. Zero fields are not checked.
type Requirement struct {
	// Roles is satisfied by any one of the listed roles.
	Roles      []string
	Permission string
	AnyOf      []string
	AllOf      []string
	// RestaurantID is the tenant that owns the target resource.
	RestaurantID uuid.NullUUID
}

// ForRestaurant scopes a requirement to the given tenant.
func (r Requirement) ForRestaurant(id uuid.UUID) Requirement {
	r.RestaurantID = uuid.NullUUID{UUID: id, Valid: true}
	return r
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Err returns nil for an allow decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// Authorize evaluates req for p. Super admins short-circuit every check.
// For everyone else the tenant is checked before role and permissions, so a
// foreign restaurant is always reported as TENANT_MISMATCH.
func Authorize(p *Principal, req Requirement) Decision {
	if p == nil || !p.IsActive {
		return Deny(ReasonUnauthenticated)
	}
	if p.IsSuperAdmin() {
		return Allow()
	}

	if req.RestaurantID.Valid {
		if !p.RestaurantID.Valid || p.RestaurantID.UUID != req.RestaurantID.UUID {
			return Deny(ReasonTenantMismatch)
		}
	}

	if len(req.Roles) > 0 && !contains(req.Roles, p.Role) {
		return Deny(ReasonWrongRole)
	}

	if req.Permission != "" && !HasPermission(p, req.Permission) {
		return Deny(ReasonMissingPermission)
	}
	if len(req.AnyOf) > 0 && !HasAnyPermission(p, req.AnyOf) {
		return Deny(ReasonMissingPermission)
	}
	if len(req.AllOf) > 0 && !HasAllPermissions(p, req.AllOf) {
		return Deny(ReasonMissingPermission)
	}

	return Allow()
}

// Check is Authorize(p, req).Err().
func Check(p *Principal, req Requirement) error {
	return Authorize(p, req).Err()
}

func HasPermission(p *Principal, permission string) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	return contains(p.Permissions, permission)
}

func HasAnyPermission(p *Principal, permissions []string) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	for _, perm := range permissions {
		if contains(p.Permissions, perm) {
			return true
		}
	}
	return false
}

func HasAllPermissions(p *Principal, permissions []string) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	for _, perm := range permissions {
		if !contains(p.Permissions, perm) {
			return false
		}
	}
	return true
}

// DefaultPermissions is the permission set assigned to a new user of role
// when the creator does not pick one explicitly.
func DefaultPermissions(role string) []string {
	switch role {
	case enum.UserRoleSuperAdmin:
		return append([]string(nil), enum.AllPermissions...)
	case enum.UserRoleRestaurantAdmin:
		return []string{
			enum.PermissionManageMenus,
			enum.PermissionManageTables,
			enum.PermissionManageOrders,
			enum.PermissionManageStaff,
			enum.PermissionManageSettings,
			enum.PermissionViewAnalytics,
		}
	case enum.UserRoleWaiter:
		return []string{enum.PermissionManageOrders}
	}
	return nil
}

// Capabilities is the filtered view of a principal handed to clients so
// they can render screens without branching on raw role strings.
type Capabilities struct {
	Role                string        `json:"role"`
	RestaurantID        uuid.NullUUID `json:"restaurant_id"`
	CanAccessEverything bool          `json:"can_access_everything"`
	Permissions         []string      `json:"permissions"`
}

func CapabilitiesOf(p *Principal) Capabilities {
	if p == nil {
		return Capabilities{Permissions: []string{}}
	}
	caps := Capabilities{
		Role:                p.Role,
		RestaurantID:        p.RestaurantID,
		CanAccessEverything: p.IsSuperAdmin(),
	}
	if p.IsSuperAdmin() {
		caps.Permissions = append([]string(nil), enum.AllPermissions...)
	} else {
		caps.Permissions = []string{}
		for _, perm := range p.Permissions {
			if enum.IsPermission(perm) && !contains(caps.Permissions, perm) {
				caps.Permissions = append(caps.Permissions, perm)
			}
		}
	}
	sort.Strings(caps.Permissions)
	return caps
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
