package session

import (
	"errors"
	"testing"
	"time"
)

func newTestTokens(t *testing.T, cfg Config) AccessTokenManager {
	t.Helper()
	if cfg.PasetoV4SecretKeyHex == "" {
		cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	}
	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return mgr
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	mgr := newTestTokens(t, DefaultConfig())

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "01HYYYYYYYYYYYYYYYYYYYYYYY", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := exp.Sub(now.Truncate(time.Second)); got != time.Hour {
		t.Fatalf("expected one hour lifetime, got %v", got)
	}

	claims, err := mgr.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" || claims.SessionID != "01HYYYYYYYYYYYYYYYYYYYYYYY" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Issuer != "panel" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("exp = %v, want %v", claims.ExpiresAt, exp)
	}
}

func TestPasetoV4_RejectsForeignKeyAndIssuer(t *testing.T) {
	cfg := DefaultConfig()
	mgr := newTestTokens(t, cfg)
	other := newTestTokens(t, cfg)

	cfg.Issuer = "someone-else"
	foreignIssuer := newTestTokens(t, cfg)

	now := time.Now().UTC()
	tok, _, err := other.Issue("u", "s", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := mgr.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}

	tok, _, err = foreignIssuer.Issue("u", "s", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := foreignIssuer.Verify(tok, now); err != nil {
		t.Fatalf("self verify: %v", err)
	}
	if _, err := mgr.Verify("v4.public.garbage", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestNewPasetoV4PublicManager_BadKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "abcd"
	if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestPasetoV4_ExpiryUsesCallerClock(t *testing.T) {
	mgr := newTestTokens(t, DefaultConfig())
	issued := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	tok, exp, err := mgr.Issue("u", "s", issued)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := mgr.Verify(tok, exp.Add(-time.Second)); err != nil {
		t.Fatalf("Verify before exp: %v", err)
	}
	if _, err := mgr.Verify(tok, exp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify at exp: got %v", err)
	}
	if _, err := mgr.Verify(tok, issued.Add(-time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify before issue: got %v", err)
	}
}
