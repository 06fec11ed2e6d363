package identity

import (
	"context"
	"time"
)

// NewUser is a fully prepared account row. The password is already hashed.
type NewUser struct {
	Username     string
	DisplayName  string
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	// CreateUser returns a ConflictError on a taken username.
	CreateUser(ctx context.Context, in NewUser) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)

	// GetUserAuthByUsername looks up by normalised username.
	GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error)

	RecordLogin(ctx context.Context, id string, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
	SetDisabled(ctx context.Context, id string, disabled bool, now time.Time) error

	CountUsers(ctx context.Context) (int, error)
}
