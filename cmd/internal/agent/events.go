package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"panel/cmd/identity/ids"
	"panel/cmd/internal/auth/keeper"
	v1 "panel/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

// SessionHolder is the part of the Session Store the event stream needs.
// *authclient.Store satisfies it.
type SessionHolder interface {
	Session() (keeper.Session, bool)
	Subscribe(fn func()) (unsubscribe func())
	HandleRevoked(ctx context.Context, sessionID, reason string)
}

// Triggerer receives visibility events. *keeper.Coordinator satisfies it.
type Triggerer interface {
	Trigger(ev keeper.Event)
}

// EventStream keeps a session-events connection open while a session is
// held, reconnecting with jittered exponential backoff. Every established
// connection fires keeper.EventVisible, since pushes may have been missed
// while it was down.
type EventStream struct {
	url     string
	origin  string
	session SessionHolder
	trigger Triggerer
	log     *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewEventStream builds a stream for the endpoint at url.
func NewEventStream(url, origin string, session SessionHolder, trigger Triggerer, log *slog.Logger, minBackoff, maxBackoff time.Duration) *EventStream {
	if log == nil {
		log = slog.Default()
	}
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &EventStream{
		url:        url,
		origin:     origin,
		session:    session,
		trigger:    trigger,
		log:        log,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Run blocks until ctx is done.
func (s *EventStream) Run(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	unsubscribe := s.session.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	backoff := s.minBackoff
	for {
		sess, ok := s.session.Session()
		if !ok || sess.AccessToken == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
				continue
			}
		}

		connected, err := s.runOnce(ctx, sess.AccessToken)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.log.Info("agent.events.disconnected", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			// New credentials: reconnect right away.
		case <-time.After(jitter(backoff)):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *EventStream) runOnce(ctx context.Context, accessToken string) (bool, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if s.origin != "" {
		h.Set("Origin", s.origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			s.log.Warn("agent.events.dial.rejected", "status", resp.StatusCode)
		}
		return false, err
	}
	defer func() { _ = conn.CloseNow() }()

	if err := s.send(ctx, conn, v1.TypeHello, v1.HelloPayload{Client: "panel-agent"}); err != nil {
		return false, err
	}
	s.log.Info("agent.events.connected", "url", s.url)
	s.trigger.Trigger(keeper.EventVisible)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("agent.events.bad_json", "err", err)
			continue
		}
		s.handle(ctx, env)
	}
}

func (s *EventStream) handle(ctx context.Context, env v1.Envelope) {
	switch env.Type {
	case v1.TypeHelloAck:
		var p v1.HelloAckPayload
		if err := env.Decode(&p); err == nil {
			s.log.Debug("agent.events.hello_ack", "conn_id", p.ConnID, "session_id", p.SessionID)
		}
	case v1.TypeSessionRevoked:
		var p v1.SessionRevokedPayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn("agent.events.bad_payload", "type", env.Type, "err", err)
			return
		}
		s.session.HandleRevoked(ctx, p.SessionID, p.Reason)
	case v1.TypeError:
		var p v1.ErrorPayload
		_ = env.Decode(&p)
		s.log.Warn("agent.events.server_error", "code", p.Code, "message", p.Message)
	}
}

func (s *EventStream) send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	env, err := v1.New(typ, ids.New(), time.Now().UTC(), payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

// jitter spreads d over [d/2, d).
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half)
}
