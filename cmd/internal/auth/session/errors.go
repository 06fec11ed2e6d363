package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when no session matches.
	ErrSessionNotFound = errors.New("session not found")

	ErrSessionExpired = errors.New("session expired")
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated refresh token is
	// presented again. All of the user's sessions have been revoked.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	// ErrRefreshRateLimited is returned when a session is refreshed again
	// before Config.RefreshMinInterval has passed.
	ErrRefreshRateLimited = errors.New("refresh rate limited")

	ErrConfig = errors.New("invalid session config")
)

// RefreshRateLimitError carries retry metadata for refresh throttling.
type RefreshRateLimitError struct {
	SessionID  string
	RetryAfter time.Duration
}

func (e RefreshRateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRefreshRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRefreshRateLimited, e.RetryAfter)
}

func (e RefreshRateLimitError) Unwrap() error { return ErrRefreshRateLimited }
