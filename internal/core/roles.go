package core

// Role is the coarse access level attached to an actor. The system records
// and checks roles but never authenticates; callers supply the role with
// each request.
type Role string

const (
	RoleOperator   Role = "OPERATOR"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
)

// Capability names a class of operations a role may perform.
type Capability string

const (
	// CapOperate covers day-to-day stock moves and work order execution:
	// movements, transfers, reservations, consumption, returns.
	CapOperate Capability = "operate"
	// CapManage covers governance: adjustments, voids, approvals,
	// cancellations, catalog and location edits.
	CapManage Capability = "manage"
	// CapExport covers reports and data extraction.
	CapExport Capability = "export"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleOperator: {
		CapOperate: true,
	},
	RoleSupervisor: {
		CapOperate: true,
		CapManage:  true,
		CapExport:  true,
	},
	RoleAdmin: {
		CapOperate: true,
		CapManage:  true,
		CapExport:  true,
	},
}

// RoleAllows reports whether the role grants the capability. Unknown roles
// grant nothing.
func RoleAllows(role Role, cap Capability) bool {
	return roleCapabilities[role][cap]
}

// PermissionDeniedError is returned by surfaces that enforce capabilities.
type PermissionDeniedError struct {
	Role       Role
	Capability Capability
}

func (e *PermissionDeniedError) Error() string {
	return "role " + string(e.Role) + " lacks capability " + string(e.Capability)
}

// RequireCapability returns a PermissionDeniedError when the role does not
// grant the capability.
func RequireCapability(role Role, cap Capability) error {
	if !RoleAllows(role, cap) {
		return &PermissionDeniedError{Role: role, Capability: cap}
	}
	return nil
}
