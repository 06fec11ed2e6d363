package session

import (
	"context"
	"net"
	"time"
)

// Platform is the client platform that owns a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a client-supplied value to a Platform.
func ParsePlatform(s string) Platform {
	switch p := Platform(s); p {
	case PlatformWeb, PlatformDesktop, PlatformIOS, PlatformAndroid:
		return p
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	Platform   Platform
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Row is one link of a session chain (panel.sessions).
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	RevocationReason    *string
	Platform            Platform
}

// Active reports whether the row can still authenticate at now.
func (r Row) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ReplacedBySessionID == nil && r.ExpiresAt.After(now)
}

// Revocation reasons recorded on rows and passed to listeners.
const (
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonRotation      = "rotation"
	ReasonReuseDetected = "reuse_detected"
)

// Store persists session rows.
type Store interface {
	// Create inserts a new session and returns its ULID.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error)

	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate locks the row holding refreshHash and hands it to fn together
	// with a transaction for follow-up writes. Writes are kept when fn
	// returns nil or ErrRefreshReuseDetected and discarded otherwise.
	// Returns ErrSessionNotFound when no row matches.
	Rotate(ctx context.Context, refreshHash string, fn func(ctx context.Context, row Row, tx RotationTx) error) error

	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke and RevokeAll are idempotent; the first reason recorded wins.
	Revoke(ctx context.Context, now time.Time, sessionID, reason string) error
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) error
}

// RotationTx is the write side of Store.Rotate.
type RotationTx interface {
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error)
	MarkRotated(ctx context.Context, now time.Time, oldID, newID string) error
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) error
}
