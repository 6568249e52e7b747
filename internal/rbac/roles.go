package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleOperator runs sweeps and inspects intake state.
	RoleOperator   = "operator"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsKnown reports whether role may be minted into a token.
func IsKnown(role string) bool {
	return role == RoleOperator || role == RoleSuperAdmin
}
