package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// Max bytes per websocket frame read. Clients only ever send hello.
	maxFrameBytes = 8 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Inbound frames per window, per connection.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)

// newInboundLimiter allows a burst of events frames, refilled evenly over
// window. Invalid inputs fall back to the package defaults.
func newInboundLimiter(events int, window time.Duration) *rate.Limiter {
	if events <= 0 {
		events = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(events)), events)
}
