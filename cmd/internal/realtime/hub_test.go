package realtime

import (
	"log/slog"
	"testing"
	"time"

	v1 "panel/shared/contracts/events/v1"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHub_PublishFansOutPerUser(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler), prometheus.NewRegistry())
	a := NewClient("c1", "u1", "s1", 4)
	b := NewClient("c2", "u1", "s2", 4)
	other := NewClient("c3", "u2", "s3", 4)
	for _, c := range []*Client{a, b, other} {
		h.Register(c)
	}

	if n := h.PublishSessionRevoked("u1", "s1", "logout"); n != 2 {
		t.Fatalf("delivered %d, want 2", n)
	}
	for _, c := range []*Client{a, b} {
		env := <-c.Send
		if env.Type != v1.TypeSessionRevoked {
			t.Fatalf("type = %q", env.Type)
		}
	}
	if len(other.Send) != 0 {
		t.Fatalf("other user received an event")
	}
	if !a.affectedBy("s1") || b.affectedBy("s1") || !b.affectedBy("") {
		t.Fatalf("affectedBy mismatch")
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler), nil)
	full := NewClient("c1", "u1", "s1", 1)
	closed := NewClient("c2", "u1", "s2", 1)
	h.Register(full)
	h.Register(closed)
	closed.Close()

	if n := h.PublishSessionRevoked("u1", "", "logout_all"); n != 1 {
		t.Fatalf("first publish delivered %d", n)
	}
	if n := h.PublishSessionRevoked("u1", "", "logout_all"); n != 0 {
		t.Fatalf("full queue must drop, delivered %d", n)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler), nil)
	c := NewClient("c1", "u1", "s1", 1)

	h.Register(c)
	if h.Connections("u1") != 1 {
		t.Fatalf("Connections = %d", h.Connections("u1"))
	}
	h.Unregister(c)
	h.Unregister(c)
	if h.Connections("u1") != 0 {
		t.Fatalf("Connections after unregister = %d", h.Connections("u1"))
	}

	h.SessionRevoked("nobody", "", "logout_all")
}

func TestInboundLimiter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newInboundLimiter(3, 3*time.Second)
	for i := range 3 {
		if !rl.AllowN(now, 1) {
			t.Fatalf("event %d rejected inside burst", i)
		}
	}
	if rl.AllowN(now, 1) {
		t.Fatalf("event past burst allowed")
	}
	if !rl.AllowN(now.Add(time.Second), 1) {
		t.Fatalf("event after refill rejected")
	}

	def := newInboundLimiter(0, 0)
	if def.Burst() != rateLimitEvents {
		t.Fatalf("default burst = %d, want %d", def.Burst(), rateLimitEvents)
	}
}
