package agent

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"panel/cmd/internal/auth/authclient"
	"panel/cmd/internal/auth/keeper"
	"panel/cmd/internal/auth/session"
	"panel/cmd/internal/realtime"
)

type recordingTrigger struct {
	mu     sync.Mutex
	events []keeper.Event
}

func (r *recordingTrigger) Trigger(ev keeper.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type eventsEnv struct {
	url      string
	hub      *realtime.Hub
	sessions *session.Service
}

func newEventsEnv(t *testing.T) eventsEnv {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	scfg := session.DefaultConfig()
	scfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	hub := realtime.NewHub(log, nil)
	svc := session.NewService(scfg, session.NewMemoryStore(), tokens, session.WithRevocationListener(hub))

	wsCfg := realtime.DefaultConfig()
	wsCfg.OriginRequired = false
	mux := http.NewServeMux()
	mux.Handle("/ws", realtime.NewGateway(log, hub, svc, wsCfg))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return eventsEnv{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub: hub, sessions: svc}
}

func storeFor(t *testing.T, iss session.Issued, userID string) *authclient.Store {
	t.Helper()
	st := authclient.NewStore(authclient.NewClient("http://127.0.0.1:1"), authclient.StoreOptions{})
	ok := st.Restore(authclient.Credentials{
		SessionID:        iss.SessionID,
		UserID:           userID,
		AccessToken:      iss.AccessToken,
		AccessExpiresAt:  iss.AccessExp,
		RefreshToken:     iss.RefreshToken,
		RefreshExpiresAt: iss.RefreshExp,
	})
	if !ok {
		t.Fatalf("Restore refused credentials")
	}
	return st
}

func TestEventStream_RevocationSignsOut(t *testing.T) {
	env := newEventsEnv(t)
	iss, err := env.sessions.IssueSession(context.Background(), time.Now().UTC(), "user-1", session.DeviceContext{Platform: session.PlatformDesktop})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	store := storeFor(t, iss, "user-1")
	trig := &recordingTrigger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewEventStream(env.url, "", store, trig, slog.New(slog.DiscardHandler), 10*time.Millisecond, 50*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	waitFor(t, "connection", func() bool { return env.hub.Connections("user-1") == 1 })
	waitFor(t, "visible trigger", func() bool { return trig.count() >= 1 })

	if err := env.sessions.RevokeSession(context.Background(), time.Now().UTC(), iss.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	waitFor(t, "local sign-out", func() bool { return !store.IsAuthenticated() })
	waitFor(t, "stream closed", func() bool { return env.hub.Connections("user-1") == 0 })

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestEventStream_IgnoresOtherSessions(t *testing.T) {
	env := newEventsEnv(t)
	now := time.Now().UTC()
	dev := session.DeviceContext{Platform: session.PlatformDesktop}
	mine, err := env.sessions.IssueSession(context.Background(), now, "user-1", dev)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	other, err := env.sessions.IssueSession(context.Background(), now, "user-1", dev)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	store := storeFor(t, mine, "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := NewEventStream(env.url, "", store, &recordingTrigger{}, slog.New(slog.DiscardHandler), 10*time.Millisecond, 50*time.Millisecond)
	go func() { _ = stream.Run(ctx) }()
	waitFor(t, "connection", func() bool { return env.hub.Connections("user-1") == 1 })

	if err := env.sessions.RevokeSession(context.Background(), now, other.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if !store.IsAuthenticated() {
		t.Fatalf("revoking a sibling session must not sign this agent out")
	}
	if env.hub.Connections("user-1") != 1 {
		t.Fatalf("stream should stay connected")
	}
}

func TestEventStream_WaitsForSession(t *testing.T) {
	env := newEventsEnv(t)
	store := authclient.NewStore(authclient.NewClient("http://127.0.0.1:1"), authclient.StoreOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	stream := NewEventStream(env.url, "", store, &recordingTrigger{}, slog.New(slog.DiscardHandler), 10*time.Millisecond, 50*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	iss, err := env.sessions.IssueSession(context.Background(), time.Now().UTC(), "user-2", session.DeviceContext{Platform: session.PlatformDesktop})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	store.Restore(authclient.Credentials{
		SessionID:        iss.SessionID,
		AccessToken:      iss.AccessToken,
		AccessExpiresAt:  iss.AccessExp,
		RefreshToken:     iss.RefreshToken,
		RefreshExpiresAt: iss.RefreshExp,
	})
	waitFor(t, "connection after sign-in", func() bool { return env.hub.Connections("user-2") == 1 })

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestJitter(t *testing.T) {
	t.Parallel()
	for range 100 {
		d := jitter(time.Second)
		if d < 500*time.Millisecond || d >= time.Second {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
