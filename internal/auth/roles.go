package auth

import "strings"

// Role is the tier an actor operates in.
type Role string

const (
	RoleOwnerUser  Role = "OWNER_USER"
	RoleOwnerAdmin Role = "OWNER_ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleTeamMember Role = "TEAM_MEMBER"
	RoleStaffAdmin Role = "STAFF_ADMIN"
)

var roles = []Role{RoleOwnerUser, RoleOwnerAdmin, RoleSuperAdmin, RoleTeamMember, RoleStaffAdmin}

// Roles lists every known role.
func Roles() []Role { return append([]Role(nil), roles...) }

// ParseRole accepts a role name in any case.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleOwnerUser, RoleOwnerAdmin, RoleSuperAdmin, RoleTeamMember, RoleStaffAdmin:
		return true
	}
	return false
}

// StaffTier reports whether the role is constrained by the permission matrix.
func (r Role) StaffTier() bool {
	return r == RoleTeamMember || r == RoleStaffAdmin
}

// Owner reports whether the role holds every grant by virtue of ownership.
func (r Role) Owner() bool {
	return r == RoleOwnerUser || r == RoleOwnerAdmin
}

// Administrative reports whether actions by this role are attributed to an admin.
func (r Role) Administrative() bool {
	return r == RoleOwnerAdmin || r == RoleSuperAdmin || r == RoleStaffAdmin
}

// Module is a functional area guarded by the permission matrix.
type Module string

const (
	ModuleRepairs   Module = "repairs"
	ModuleBilling   Module = "billing"
	ModuleInventory Module = "inventory"
	ModuleCustomers Module = "customers"
	ModuleReports   Module = "reports"
	ModuleStaff     Module = "staff"
	ModuleSettings  Module = "settings"
	ModuleAudit     Module = "audit"
)

var modules = []Module{
	ModuleRepairs, ModuleBilling, ModuleInventory, ModuleCustomers,
	ModuleReports, ModuleStaff, ModuleSettings, ModuleAudit,
}

// Modules lists every known module in display order.
func Modules() []Module { return append([]Module(nil), modules...) }

// ParseModule accepts a module id in any case. Unknown ids are rejected.
func ParseModule(raw string) (Module, bool) {
	m := Module(strings.ToLower(strings.TrimSpace(raw)))
	return m, m.Valid()
}

func (m Module) Valid() bool {
	for _, known := range modules {
		if m == known {
			return true
		}
	}
	return false
}

// Capability names a privileged action attached to a route.
type Capability string

const (
	CapManageRepairs   Capability = "manage_repairs"
	CapManageBilling   Capability = "manage_billing"
	CapManageSystem    Capability = "manage_system"
	CapManageInventory Capability = "manage_inventory"
	CapManageCustomers Capability = "manage_customers"
	CapManageStaff     Capability = "manage_staff"
	CapViewReports     Capability = "view_reports"
	CapViewAudit       Capability = "view_audit"
)

var capabilityModules = map[Capability]Module{
	CapManageRepairs:   ModuleRepairs,
	CapManageBilling:   ModuleBilling,
	CapManageSystem:    ModuleSettings,
	CapManageInventory: ModuleInventory,
	CapManageCustomers: ModuleCustomers,
	CapManageStaff:     ModuleStaff,
	CapViewReports:     ModuleReports,
	CapViewAudit:       ModuleAudit,
}

// ParseCapability accepts a capability name in any case.
func ParseCapability(raw string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := capabilityModules[c]
	return c, ok
}

// Module returns the module a capability is bound to.
func (c Capability) Module() (Module, bool) {
	m, ok := capabilityModules[c]
	return m, ok
}

// Access is the kind of grant an action needs.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// ParseAccess accepts "read" or "write" in any case.
func ParseAccess(raw string) (Access, bool) {
	a := Access(strings.ToLower(strings.TrimSpace(raw)))
	return a, a == AccessRead || a == AccessWrite
}

// Title is the capitalised access kind used in ledger details.
func (a Access) Title() string {
	switch a {
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	}
	return string(a)
}
