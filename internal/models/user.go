package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// CanOverrideOwnership reports whether the role may update courses owned by
// another account during a sync.
func (r UserRole) CanOverrideOwnership() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}
