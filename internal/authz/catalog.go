package authz

import "fmt"

// Permission is a named capability in "module:action" form.
type Permission string

// Role is a coarse authorization tier. The hierarchy is strict:
// SUPER_ADMIN > ADMIN > MANAGER > EMPLOYEE.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleEmployee   Role = "EMPLOYEE"
)

// The permission catalog is closed: handlers may only require permissions
// declared here, and override rows referencing anything else are invalid.
const (
	PermProductsView   Permission = "products:view"
	PermProductsCreate Permission = "products:create"
	PermProductsUpdate Permission = "products:update"
	PermProductsDelete Permission = "products:delete"

	PermInventoryView     Permission = "inventory:view"
	PermInventoryAdjust   Permission = "inventory:adjust"
	PermInventoryTransfer Permission = "inventory:transfer"

	PermWarehousesView   Permission = "warehouses:view"
	PermWarehousesManage Permission = "warehouses:manage"

	PermInvoicesView   Permission = "invoices:view"
	PermInvoicesCreate Permission = "invoices:create"
	PermInvoicesUpdate Permission = "invoices:update"
	PermInvoicesVoid   Permission = "invoices:void"

	PermPayrollView    Permission = "payroll:view"
	PermPayrollRun     Permission = "payroll:run"
	PermPayrollApprove Permission = "payroll:approve"

	PermPOSSell   Permission = "pos:sell"
	PermPOSRefund Permission = "pos:refund"
	PermPOSClose  Permission = "pos:close"

	PermUsersView   Permission = "users:view"
	PermUsersManage Permission = "users:manage"

	PermReportsView   Permission = "reports:view"
	PermReportsExport Permission = "reports:export"

	PermPermissionsView   Permission = "permissions:view"
	PermPermissionsManage Permission = "permissions:manage"
)

var allPermissions = []Permission{
	PermProductsView, PermProductsCreate, PermProductsUpdate, PermProductsDelete,
	PermInventoryView, PermInventoryAdjust, PermInventoryTransfer,
	PermWarehousesView, PermWarehousesManage,
	PermInvoicesView, PermInvoicesCreate, PermInvoicesUpdate, PermInvoicesVoid,
	PermPayrollView, PermPayrollRun, PermPayrollApprove,
	PermPOSSell, PermPOSRefund, PermPOSClose,
	PermUsersView, PermUsersManage,
	PermReportsView, PermReportsExport,
	PermPermissionsView, PermPermissionsManage,
}

// roleDefaults is the static role -> default permission mapping. It is built
// once at package init and never mutated afterwards; callers receive copies.
var roleDefaults = map[Role][]Permission{
	RoleSuperAdmin: allPermissions,
	RoleAdmin: {
		PermProductsView, PermProductsCreate, PermProductsUpdate, PermProductsDelete,
		PermInventoryView, PermInventoryAdjust, PermInventoryTransfer,
		PermWarehousesView, PermWarehousesManage,
		PermInvoicesView, PermInvoicesCreate, PermInvoicesUpdate, PermInvoicesVoid,
		PermPayrollView, PermPayrollRun, PermPayrollApprove,
		PermPOSSell, PermPOSRefund, PermPOSClose,
		PermUsersView, PermUsersManage,
		PermReportsView, PermReportsExport,
		PermPermissionsView, PermPermissionsManage,
	},
	RoleManager: {
		PermProductsView, PermProductsCreate, PermProductsUpdate,
		PermInventoryView, PermInventoryAdjust, PermInventoryTransfer,
		PermWarehousesView,
		PermInvoicesView, PermInvoicesCreate, PermInvoicesUpdate,
		PermPayrollView,
		PermPOSSell, PermPOSRefund, PermPOSClose,
		PermUsersView,
		PermReportsView, PermReportsExport,
	},
	RoleEmployee: {
		PermProductsView,
		PermInventoryView,
		PermInvoicesView, PermInvoicesCreate,
		PermPOSSell,
	},
}

var roleLevels = map[Role]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleManager:    2,
	RoleEmployee:   1,
}

// Level orders roles by privilege; unknown roles rank below every known one.
func (r Role) Level() int {
	return roleLevels[r]
}

// Valid reports whether the role is part of the catalog.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// IsTop reports whether the role bypasses permission checks entirely.
func (r Role) IsTop() bool {
	return r == RoleSuperAdmin
}

// Valid reports whether the permission belongs to the closed catalog.
func (p Permission) Valid() bool {
	_, ok := universe[p]
	return ok
}

var universe map[Permission]struct{}

func init() {
	universe = make(map[Permission]struct{}, len(allPermissions))
	for _, p := range allPermissions {
		universe[p] = struct{}{}
	}
}

// Universe returns a copy of the full permission set.
func Universe() map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(allPermissions))
	for _, p := range allPermissions {
		set[p] = struct{}{}
	}
	return set
}

// AllPermissions returns the catalog in declaration order.
func AllPermissions() []Permission {
	perms := make([]Permission, len(allPermissions))
	copy(perms, allPermissions)
	return perms
}

// DefaultsFor returns a copy of the default permission set for a role. The
// boolean is false when the role has no entry, which is a configuration error
// the caller must surface, never an empty set.
func DefaultsFor(role Role) (map[Permission]struct{}, bool) {
	defaults, ok := roleDefaults[role]
	if !ok {
		return nil, false
	}
	set := make(map[Permission]struct{}, len(defaults))
	for _, p := range defaults {
		set[p] = struct{}{}
	}
	return set, true
}

// ValidateDefaults checks catalog consistency at startup. Every role must have
// a defaults entry, the top role must map to the whole universe, and every
// mapped permission must exist in the catalog.
func ValidateDefaults() error {
	for role := range roleLevels {
		defaults, ok := roleDefaults[role]
		if !ok {
			return fmt.Errorf("authz: role %s has no default permission entry", role)
		}
		for _, p := range defaults {
			if !p.Valid() {
				return fmt.Errorf("authz: role %s maps unknown permission %s", role, p)
			}
		}
	}
	if len(roleDefaults[RoleSuperAdmin]) != len(allPermissions) {
		return fmt.Errorf("authz: top role must map the full permission universe")
	}
	return nil
}
