package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	TableStatusAvailable   = "available"
	TableStatusOccupied    = "occupied"
	TableStatusReserved    = "reserved"
	TableStatusMaintenance = "maintenance"
)

const (
	RestaurantStatusActive    = "active"
	RestaurantStatusInactive  = "inactive"
	RestaurantStatusSuspended = "suspended"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleSuperAdmin      = "super_admin"
	UserRoleRestaurantAdmin = "restaurant_admin"
	UserRoleWaiter          = "waiter"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	OrderTypeDineIn = "dine_in"
)

const (
	PermissionManageRestaurants = "manage_restaurants"
	PermissionManageUsers       = "manage_users"
	PermissionManageMenus       = "manage_menus"
	PermissionManageTables      = "manage_tables"
	PermissionManageOrders      = "manage_orders"
	PermissionManageStaff       = "manage_staff"
	PermissionManageSettings    = "manage_settings"
	PermissionViewAnalytics     = "view_analytics"
)

// OrderStatuses lists every order status in lifecycle order.
var OrderStatuses = []string{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// AllPermissions lists every permission tag known to the system.
var AllPermissions = []string{
	PermissionManageRestaurants,
	PermissionManageUsers,
	PermissionManageMenus,
	PermissionManageTables,
	PermissionManageOrders,
	PermissionManageStaff,
	PermissionManageSettings,
	PermissionViewAnalytics,
}

func IsOrderStatus(s string) bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func IsTerminalOrderStatus(s string) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func IsTableStatus(s string) bool {
	switch s {
	case TableStatusAvailable, TableStatusOccupied, TableStatusReserved, TableStatusMaintenance:
		return true
	}
	return false
}

func IsRestaurantStatus(s string) bool {
	switch s {
	case RestaurantStatusActive, RestaurantStatusInactive, RestaurantStatusSuspended:
		return true
	}
	return false
}

func IsRole(s string) bool {
	switch s {
	case UserRoleSuperAdmin, UserRoleRestaurantAdmin, UserRoleWaiter:
		return true
	}
	return false
}

func IsPermission(s string) bool {
	for _, p := range AllPermissions {
		if p == s {
			return true
		}
	}
	return false
}
