package identity

import (
	"context"
	"time"
)

// Store is the account persistence port.
//
// Username and email are unique case-insensitively. A duplicate is a ConflictError naming
// the field; a missing row is ErrNotFound.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	SetRoles(ctx context.Context, id string, roles []string, now time.Time) (User, error)
}
