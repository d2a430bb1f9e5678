package rbac

// Role names. Keep these stable; they are part of the auth contract.
const (
	RoleOwner = "owner"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
