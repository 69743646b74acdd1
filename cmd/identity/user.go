package identity

import (
	"slices"
	"time"
)

// Roles.
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

var knownRoles = []string{RoleAdmin, RoleReader}

// IsKnownRole reports whether r is a role the application grants.
func IsKnownRole(r string) bool { return slices.Contains(knownRoles, r) }

// User is an account as the rest of the application sees it.
type User struct {
	ID        string
	Username  string
	Email     string
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether u holds role.
func (u User) HasRole(role string) bool { return slices.Contains(u.Roles, role) }

// UserAuth is a User plus its password hash. It never leaves the auth layer.
type UserAuth struct {
	User
	PasswordHash string
}

// CreateUserInput is a fully prepared row: ids, hashes and roles are decided by the caller.
type CreateUserInput struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Roles        []string
	Now          time.Time
}
