package realtime

import (
	"log/slog"
	"sync"
	"time"

	"panel/cmd/identity/ids"
	"panel/cmd/internal/auth/session"
	v1 "panel/shared/contracts/events/v1"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub tracks connected clients by user and fans out session events.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]*Client

	conns     prometheus.Gauge
	published *prometheus.CounterVec
	dropped   prometheus.Counter
}

var _ session.RevocationListener = (*Hub)(nil)

// NewHub constructs a Hub. Collectors are registered with reg when it is non-nil.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:   log,
		now:   time.Now,
		users: make(map[string]map[string]*Client),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "panel",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open session-event streams.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Session events queued to clients, by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "panel",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Session events dropped because a client queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.conns, h.published, h.dropped)
	}
	return h
}

// Register adds c to its user's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.UserID]
	if !ok {
		set = make(map[string]*Client)
		h.users[c.UserID] = set
	}
	set[c.ConnID] = c
	h.conns.Inc()
}

// Unregister removes c. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.users[c.UserID]
	if _, ok := set[c.ConnID]; !ok {
		return
	}
	delete(set, c.ConnID)
	if len(set) == 0 {
		delete(h.users, c.UserID)
	}
	h.conns.Dec()
}

// Connections reports how many streams userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SessionRevoked implements session.RevocationListener.
func (h *Hub) SessionRevoked(userID, sessionID, reason string) {
	h.PublishSessionRevoked(userID, sessionID, reason)
}

// PublishSessionRevoked queues a session.revoked event for every stream of
// userID and returns how many accepted it. It never blocks: a full queue
// drops the event for that client.
func (h *Hub) PublishSessionRevoked(userID, sessionID, reason string) int {
	now := h.now().UTC()
	env, err := v1.New(v1.TypeSessionRevoked, ids.New(), now, v1.SessionRevokedPayload{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		h.log.Error("realtime.publish.encode.fail", "err", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.users[userID] {
		select {
		case <-c.Done():
			continue
		default:
		}
		select {
		case c.Send <- env:
			delivered++
		default:
			h.dropped.Inc()
			h.log.Warn("realtime.publish.drop", "conn_id", c.ConnID, "user_id", userID)
		}
	}
	h.published.WithLabelValues(reason).Add(float64(delivered))
	h.log.Info("realtime.session.revoked", "user_id", userID, "session_id", sessionID, "reason", reason, "delivered", delivered)
	return delivered
}
