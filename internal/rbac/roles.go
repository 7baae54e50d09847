package rbac

// Role names carried in access tokens.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// IsAdmin reports whether role passes every role check.
func IsAdmin(role string) bool { return role == RoleAdmin }
