package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"panel/cmd/security/token"
)

type revocation struct {
	userID, sessionID, reason string
}

type revocationRecorder struct {
	mu  sync.Mutex
	got []revocation
}

func (r *revocationRecorder) SessionRevoked(userID, sessionID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, revocation{userID, sessionID, reason})
}

func (r *revocationRecorder) all() []revocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]revocation(nil), r.got...)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore, *revocationRecorder) {
	t.Helper()
	cfg := DefaultConfig()
	store := NewMemoryStore()
	rec := &revocationRecorder{}
	opts = append(opts, WithRevocationListener(rec))
	return NewService(cfg, store, newTestTokens(t, cfg), opts...), store, rec
}

var webDevice = DeviceContext{Platform: PlatformWeb, UserAgent: "panel-test/1.0"}

func TestService_IssueAndValidate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.IssueSession(ctx, now, "user-1", webDevice)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if issued.SessionID == "" || issued.AccessToken == "" || issued.RefreshToken == "" {
		t.Fatalf("expected populated tokens: %+v", issued)
	}
	if got := issued.RefreshExp.Sub(now); got != 24*time.Hour {
		t.Fatalf("web refresh ttl = %v, want 24h", got)
	}

	claims, err := svc.ValidateAccessToken(ctx, issued.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != issued.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestService_RefreshTTLByPlatform(t *testing.T) {
	svc, _, _ := newTestService(t)
	cfg := svc.Config()

	tests := []struct {
		dev  DeviceContext
		want time.Duration
	}{
		{DeviceContext{Platform: PlatformWeb, RememberMe: true}, cfg.RefreshTTLWeb},
		{DeviceContext{Platform: PlatformDesktop, RememberMe: true}, cfg.RefreshTTLNative},
		{DeviceContext{Platform: PlatformDesktop}, cfg.RefreshTTLNativeShort},
		{DeviceContext{Platform: PlatformIOS}, cfg.RefreshTTLNativeShort},
		{DeviceContext{Platform: PlatformUnknown, RememberMe: true}, cfg.RefreshTTLWeb},
	}
	for _, tc := range tests {
		if got := svc.refreshTTL(tc.dev); got != tc.want {
			t.Fatalf("refreshTTL(%+v) = %v, want %v", tc.dev, got, tc.want)
		}
	}
}

func TestService_RotateRefresh(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := svc.IssueSession(ctx, now, "user-1", webDevice)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	second, err := svc.RotateRefresh(ctx, now.Add(2*time.Second), first.RefreshToken, webDevice)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if second.SessionID == first.SessionID || second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new session link")
	}

	old, err := store.GetByID(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if old.RevokedAt == nil || old.ReplacedBySessionID == nil || *old.ReplacedBySessionID != second.SessionID {
		t.Fatalf("expected old link rotated into %q, got %+v", second.SessionID, old)
	}
	if old.RevocationReason == nil || *old.RevocationReason != ReasonRotation {
		t.Fatalf("expected rotation reason, got %v", old.RevocationReason)
	}

	if _, err := svc.ValidateAccessToken(ctx, first.AccessToken, now.Add(3*time.Second)); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old access token: expected ErrSessionRevoked, got %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, second.AccessToken, now.Add(3*time.Second)); err != nil {
		t.Fatalf("new access token: %v", err)
	}
}

func TestService_RotateRefresh_ReuseRevokesAll(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
	other, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
	bystander, _ := svc.IssueSession(ctx, now, "user-2", webDevice)

	second, err := svc.RotateRefresh(ctx, now.Add(2*time.Second), first.RefreshToken, webDevice)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}

	_, err = svc.RotateRefresh(ctx, now.Add(4*time.Second), first.RefreshToken, webDevice)
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("expected ErrRefreshReuseDetected, got %v", err)
	}

	for _, id := range []string{second.SessionID, other.SessionID} {
		row, _ := store.GetByID(ctx, id)
		if row.RevokedAt == nil {
			t.Fatalf("expected session %s revoked after reuse", id)
		}
	}
	row, _ := store.GetByID(ctx, bystander.SessionID)
	if row.RevokedAt != nil {
		t.Fatalf("other users must be unaffected")
	}

	got := rec.all()
	if len(got) != 1 || got[0] != (revocation{"user-1", "", ReasonReuseDetected}) {
		t.Fatalf("unexpected revocations: %+v", got)
	}
}

func TestService_RotateRefresh_Rejections(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("unknown", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		for _, tok := range []string{"", "   ", "not-a-token"} {
			if _, err := svc.RotateRefresh(ctx, now, tok, webDevice); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("%q: expected ErrSessionNotFound, got %v", tok, err)
			}
		}
	})

	t.Run("revoked", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		issued, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
		if err := svc.RevokeSession(ctx, now.Add(time.Second), issued.SessionID); err != nil {
			t.Fatalf("RevokeSession: %v", err)
		}
		if _, err := svc.RotateRefresh(ctx, now.Add(2*time.Second), issued.RefreshToken, webDevice); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		issued, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
		if _, err := svc.RotateRefresh(ctx, issued.RefreshExp, issued.RefreshToken, webDevice); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("too soon", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		issued, _ := svc.IssueSession(ctx, now, "user-1", webDevice)

		_, err := svc.RotateRefresh(ctx, now.Add(400*time.Millisecond), issued.RefreshToken, webDevice)
		var rl RefreshRateLimitError
		if !errors.As(err, &rl) || !errors.Is(err, ErrRefreshRateLimited) {
			t.Fatalf("expected RefreshRateLimitError, got %v", err)
		}
		if rl.RetryAfter != 600*time.Millisecond || rl.SessionID != issued.SessionID {
			t.Fatalf("unexpected limit error: %+v", rl)
		}

		row, _ := store.GetByID(ctx, issued.SessionID)
		if !row.Active(now.Add(time.Second)) {
			t.Fatalf("a throttled refresh must not touch the session")
		}
		if _, err := svc.RotateRefresh(ctx, now.Add(time.Second), issued.RefreshToken, webDevice); err != nil {
			t.Fatalf("RotateRefresh after interval: %v", err)
		}
	})
}

func TestService_RotateRefresh_ConcurrentSameToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	issued, _ := svc.IssueSession(ctx, now, "user-1", webDevice)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.RotateRefresh(ctx, now.Add(2*time.Second), issued.RefreshToken, webDevice)
		}()
	}
	wg.Wait()

	var ok, reuse int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRefreshReuseDetected):
			reuse++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || reuse != n-1 {
		t.Fatalf("expected exactly one rotation, got ok=%d reuse=%d", ok, reuse)
	}
}

func TestService_RevokeNotifiesListeners(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
	b, _ := svc.IssueSession(ctx, now, "user-1", webDevice)

	if err := svc.RevokeSession(ctx, now, a.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, a.AccessToken, now); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, b.AccessToken, now); err != nil {
		t.Fatalf("sibling session: %v", err)
	}

	if err := svc.RevokeAll(ctx, now, "user-1"); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if _, err := svc.ValidateAccessToken(ctx, b.AccessToken, now); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after RevokeAll, got %v", err)
	}

	if err := svc.RevokeSession(ctx, now, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	want := []revocation{
		{"user-1", a.SessionID, ReasonLogout},
		{"user-1", "", ReasonLogoutAll},
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("revocations = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("revocation %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestService_KeyedHasherStoresDigest(t *testing.T) {
	h := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	svc, store, _ := newTestService(t, WithHasher(h))
	ctx := context.Background()
	now := time.Now().UTC()

	issued, _ := svc.IssueSession(ctx, now, "user-1", webDevice)
	row, err := store.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.RefreshTokenHash == issued.RefreshToken || row.RefreshTokenHash == token.SHA256Hex(issued.RefreshToken) {
		t.Fatalf("expected keyed digest to be stored")
	}
	if !h.Matches(issued.RefreshToken, row.RefreshTokenHash) {
		t.Fatalf("stored digest does not match token")
	}
	if _, err := svc.RotateRefresh(ctx, now.Add(2*time.Second), issued.RefreshToken, webDevice); err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
}

func TestParsePlatform(t *testing.T) {
	tests := map[string]Platform{
		"web":     PlatformWeb,
		"desktop": PlatformDesktop,
		"ios":     PlatformIOS,
		"android": PlatformAndroid,
		"":        PlatformUnknown,
		"toaster": PlatformUnknown,
	}
	for in, want := range tests {
		if got := ParsePlatform(in); got != want {
			t.Fatalf("ParsePlatform(%q) = %q, want %q", in, got, want)
		}
	}
}
