package ratelimit

import (
	"context"
	"time"
)

// Store counts hits in fixed windows.
type Store interface {
	// Hit counts one request under key. A window opens on the first hit and
	// lasts window; the count and the window's end are returned.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}
