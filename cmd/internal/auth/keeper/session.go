package keeper

import (
	"context"
	"time"
)

// Session is the read-only view of the credential held by a Store.
type Session struct {
	AccessToken string

	// ExpiresAt is the access-token expiry in Unix seconds. Zero (or any
	// non-positive value) means the session carries no expiry.
	ExpiresAt int64
}

// Expiry returns the expiry instant and whether the session has one.
func (s Session) Expiry() (time.Time, bool) {
	if s.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.Unix(s.ExpiresAt, 0), true
}

// Store owns the session. Implementations must be safe for concurrent use
// and must not hold internal locks while invoking subscribers.
type Store interface {
	// Session returns the current session, if any.
	Session() (Session, bool)

	IsAuthenticated() bool

	// RefreshSession exchanges the refresh credential for a new session.
	// It returns a non-nil error when the refresh failed.
	RefreshSession(ctx context.Context) error

	// CheckSessionExpiry is the store's own cheap self-check. It may log the
	// session out if it detects expiry or server-side invalidation.
	CheckSessionExpiry(ctx context.Context)

	Logout(ctx context.Context) error

	// Subscribe registers fn to be called after every session mutation
	// (login, refresh, logout). The returned func removes the subscription.
	Subscribe(fn func()) (unsubscribe func())
}

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a message meant for the person using the session.
type Notice struct {
	Level   Level
	Message string
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Notice) {}
