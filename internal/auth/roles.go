package auth

// Role is the role claim issued by the auth provider.
type Role string

const (
	RoleAuthenticated Role = "authenticated"
	RoleServiceRole   Role = "service_role"
)

// NormalizeRole validates a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleAuthenticated, RoleServiceRole:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleAuthenticated:
		return 1
	case RoleServiceRole:
		return 2
	default:
		return 0
	}
}
