package auth

import "github.com/nerrad567/gray-logic-resgraph/internal/resource"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermResourceRead      Permission = "resource:read"
	PermResourceWrite     Permission = "resource:write"
	PermResourceStructure Permission = "resource:structure"
	PermResourceAdmin     Permission = "resource:admin"
	PermPatternRead       Permission = "pattern:read"
	PermPatternManage     Permission = "pattern:manage"
	PermSystemAdmin       Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermResourceRead,
		PermPatternRead,
	},
	RoleOperator: {
		PermResourceRead,
		PermResourceWrite,
		PermPatternRead,
	},
	RoleAdmin: {
		PermResourceRead,
		PermResourceWrite,
		PermResourceStructure,
		PermResourceAdmin,
		PermPatternRead,
		PermPatternManage,
	},
	RoleOwner: {
		PermResourceRead,
		PermResourceWrite,
		PermResourceStructure,
		PermResourceAdmin,
		PermPatternRead,
		PermPatternManage,
		PermSystemAdmin,
	},
}

// operationPermissions maps gated graph operations to the permission they need.
var operationPermissions = map[resource.Operation]Permission{
	resource.OpBulkActivate:   PermResourceAdmin,
	resource.OpBulkDeactivate: PermResourceAdmin,
	resource.OpDecorate:       PermResourceStructure,
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// PermissionForOperation returns the permission a gated operation needs.
// Unknown operations need system:admin.
func PermissionForOperation(op resource.Operation) Permission {
	if p, ok := operationPermissions[op]; ok {
		return p
	}
	return PermSystemAdmin
}
