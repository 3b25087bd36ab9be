package auth

import "slices"

// Permission is a named capability checked by API handlers.
type Permission string

const (
	PermScanRead         Permission = "scan:read"
	PermScanManage       Permission = "scan:manage"
	PermDataSourceRead   Permission = "datasource:read"
	PermDataSourceManage Permission = "datasource:manage"
	PermAuditRead        Permission = "audit:read"
	PermUserManage       Permission = "user:manage"
	PermSystemAdmin      Permission = "system:admin"
)

// rolePermissions is the whole authorisation model. Per-scan visibility
// (owner or admin) is layered on top by the resource package.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermScanRead,
		PermScanManage,
		PermDataSourceRead,
	},
	RoleAdmin: {
		PermScanRead,
		PermScanManage,
		PermDataSourceRead,
		PermDataSourceManage,
		PermAuditRead,
		PermSystemAdmin,
	},
	RoleOwner: {
		PermScanRead,
		PermScanManage,
		PermDataSourceRead,
		PermDataSourceManage,
		PermAuditRead,
		PermUserManage,
		PermSystemAdmin,
	},
}

// HasPermission reports whether role grants perm. Unknown roles have none.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of the role's permissions, nil for
// unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
