package agent

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"panel/cmd/internal/app"
	"panel/cmd/internal/auth/authclient"
	"panel/cmd/internal/auth/keeper"
	"panel/cmd/internal/auth/session"
)

const testPassword = "correct horse battery"

func newPanelServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("PANEL_PASETO_V4_SECRET_KEY_HEX", session.GenerateSecretKeyHex())
	t.Setenv("PANEL_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("PANEL_ARGON2_ITERATIONS", "1")

	a, err := app.New(context.Background(), app.Config{
		BootstrapAdminUsername: "operator",
		BootstrapAdminPassword: testPassword,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func testAgentConfig(serverURL, sessionFile string) Config {
	return Config{
		ServerURL:       serverURL,
		Username:        "operator",
		Password:        testPassword,
		SessionFile:     sessionFile,
		Platform:        "desktop",
		HTTPTimeout:     5 * time.Second,
		Events:          true,
		EventsOrigin:    "http://127.0.0.1",
		ReconnectMin:    10 * time.Millisecond,
		ReconnectMax:    100 * time.Millisecond,
		WatchDebounce:   20 * time.Millisecond,
		ShutdownTimeout: time.Second,
		Keeper:          keeper.DefaultConfig(),
	}
}

func TestAgent_SignsInPersistsAndFollowsFile(t *testing.T) {
	srv := newPanelServer(t)
	path := filepath.Join(t.TempDir(), "session.json")

	a, err := New(testAgentConfig(srv.URL, path), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "sign-in", a.Store().IsAuthenticated)

	saved, err := authclient.NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	creds, _ := a.Store().Credentials()
	if saved.SessionID != creds.SessionID || saved.Username != "operator" {
		t.Fatalf("saved %+v, in memory %+v", saved, creds)
	}

	// Deleting the file elsewhere signs the agent out once the watcher is up.
	time.Sleep(300 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, "sign-out", func() bool { return !a.Store().IsAuthenticated() })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestAgent_RestoresSavedSession(t *testing.T) {
	srv := newPanelServer(t)
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := New(testAgentConfig(srv.URL, path), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first.signIn(context.Background())
	want, ok := first.Store().Credentials()
	if !ok {
		t.Fatalf("first agent did not sign in")
	}

	cfg := testAgentConfig(srv.URL, path)
	cfg.Username, cfg.Password = "", ""
	second, err := New(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second.signIn(context.Background())
	got, ok := second.Store().Credentials()
	if !ok || got.SessionID != want.SessionID {
		t.Fatalf("restored %+v, want session %s", got, want.SessionID)
	}
}
