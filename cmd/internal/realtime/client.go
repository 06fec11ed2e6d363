package realtime

import (
	"sync"

	v1 "panel/shared/contracts/events/v1"
)

// Client is one connected event stream.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// done signals shutdown instead.
type Client struct {
	ConnID    string
	UserID    string
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID, userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ConnID:    connID,
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. It is idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// affectedBy reports whether a revocation of sessionID ends this client's
// session. An empty sessionID covers every session of the user.
func (c *Client) affectedBy(sessionID string) bool {
	return sessionID == "" || sessionID == c.SessionID
}
