package authclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"panel/cmd/internal/auth/keeper"

	"golang.org/x/sync/singleflight"
)

const (
	// expiryWarningWindow is how close to its end a session gets a warning,
	// and how long an unanswered warning stands before the session is ended.
	expiryWarningWindow = 5 * time.Minute

	msgExpiringSoon = "Your session is about to expire. Keep working to stay signed in."
	msgExpired      = "Your session has expired. Please sign in again."
	msgRevoked      = "Your session was ended on the server. Please sign in again."
)

// Credentials is everything the store knows about the signed-in session.
type Credentials struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Username         string    `json:"username"`
	Role             string    `json:"role"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// sessionEnd is when the session itself (not just the access token) ends.
func (c Credentials) sessionEnd() time.Time {
	if !c.RefreshExpiresAt.IsZero() {
		return c.RefreshExpiresAt
	}
	return c.AccessExpiresAt
}

func (c Credentials) same(o Credentials) bool {
	return c.SessionID == o.SessionID &&
		c.UserID == o.UserID &&
		c.AccessToken == o.AccessToken &&
		c.RefreshToken == o.RefreshToken &&
		c.AccessExpiresAt.Equal(o.AccessExpiresAt) &&
		c.RefreshExpiresAt.Equal(o.RefreshExpiresAt)
}

func (c Credentials) withTokens(t Tokens) Credentials {
	c.SessionID = t.SessionID
	c.AccessToken = t.AccessToken
	c.AccessExpiresAt = t.AccessExpiresAt
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
	c.RefreshExpiresAt = t.RefreshExpiresAt
	return c
}

// Persister saves credentials between agent runs.
type Persister interface {
	Save(Credentials) error
	Clear() error
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Notifier keeper.Notifier
	Logger   *slog.Logger
	Persist  Persister

	// VerifyRemote makes CheckSessionExpiry ask the server whether the
	// session is still active.
	VerifyRemote bool

	// Now overrides the wall clock.
	Now func() time.Time
}

// Store holds the signed-in session and implements keeper.Store.
//
// Subscribers are always invoked without internal locks held.
type Store struct {
	api      *Client
	notifier keeper.Notifier
	log      *slog.Logger
	persist  Persister
	verify   bool
	now      func() time.Time

	refreshes singleflight.Group

	mu       sync.RWMutex
	creds    *Credentials
	warnedAt time.Time

	subsMu  sync.Mutex
	subs    map[uint64]func()
	nextSub uint64
}

var _ keeper.Store = (*Store)(nil)

// NewStore builds an empty (signed-out) Store.
func NewStore(api *Client, opts StoreOptions) *Store {
	if opts.Notifier == nil {
		opts.Notifier = keeper.NotifierFunc(func(context.Context, keeper.Notice) {})
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		api:      api,
		notifier: opts.Notifier,
		log:      opts.Logger,
		persist:  opts.Persist,
		verify:   opts.VerifyRemote,
		now:      opts.Now,
		subs:     make(map[uint64]func()),
	}
}

// Session returns the access token and its expiry.
func (s *Store) Session() (keeper.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return keeper.Session{}, false
	}
	sess := keeper.Session{AccessToken: s.creds.AccessToken}
	if !s.creds.AccessExpiresAt.IsZero() {
		sess.ExpiresAt = s.creds.AccessExpiresAt.Unix()
	}
	return sess, true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds != nil
}

// Credentials returns a copy of the current credentials.
func (s *Store) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Login signs in and replaces any current session.
func (s *Store) Login(ctx context.Context, username, password string) error {
	user, tokens, err := s.api.Login(ctx, username, password)
	if err != nil {
		return err
	}
	creds := Credentials{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}.withTokens(tokens)

	s.set(creds)
	s.log.Info("authclient.login.ok", "user_id", creds.UserID, "session_id", creds.SessionID)
	return nil
}

// Restore installs credentials loaded from disk. Expired or unchanged
// credentials are ignored; it reports whether the session was installed.
func (s *Store) Restore(creds Credentials) bool {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return false
	}
	if end := creds.sessionEnd(); !end.IsZero() && !end.After(s.now()) {
		return false
	}

	s.mu.Lock()
	if s.creds != nil && s.creds.same(creds) {
		s.mu.Unlock()
		return false
	}
	c := creds
	s.creds = &c
	s.warnedAt = time.Time{}
	s.mu.Unlock()

	s.publish()
	return true
}

// RefreshSession rotates the refresh token. Concurrent callers share one
// network call and its result.
func (s *Store) RefreshSession(ctx context.Context) error {
	_, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *Store) refresh(ctx context.Context) error {
	current, ok := s.Credentials()
	if !ok {
		return ErrNotAuthenticated
	}

	tokens, err := s.api.Refresh(ctx, current.RefreshToken)
	if err != nil {
		s.log.Warn("authclient.refresh.fail", "session_id", current.SessionID, "err", err)
		return err
	}

	s.mu.Lock()
	if s.creds == nil || s.creds.RefreshToken != current.RefreshToken {
		// Logged out or replaced while the call was out.
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	next := s.creds.withTokens(tokens)
	s.creds = &next
	s.warnedAt = time.Time{}
	s.mu.Unlock()

	s.save(next)
	s.publish()
	s.log.Info("authclient.refresh.ok", "session_id", next.SessionID, "access_expires_at", next.AccessExpiresAt)
	return nil
}

// CheckSessionExpiry is the periodic self-check:
//   - an ended session is logged out with a notice;
//   - a session ending within five minutes gets a single warning;
//   - a warning left unanswered for five minutes ends the session;
//   - with VerifyRemote, a server-side revocation ends the session.
func (s *Store) CheckSessionExpiry(ctx context.Context) {
	creds, ok := s.Credentials()
	if !ok {
		return
	}
	now := s.now()
	end := creds.sessionEnd()

	if !end.IsZero() && !end.After(now) {
		s.expire(ctx, msgExpired, "expired")
		return
	}

	var warn, stale bool
	s.mu.Lock()
	if !end.IsZero() && end.Sub(now) < expiryWarningWindow && s.warnedAt.IsZero() {
		s.warnedAt = now
		warn = true
	}
	if !s.warnedAt.IsZero() && now.Sub(s.warnedAt) > expiryWarningWindow {
		stale = true
	}
	s.mu.Unlock()

	if warn {
		s.notifier.Notify(ctx, keeper.Notice{Level: keeper.LevelWarning, Message: msgExpiringSoon})
	}
	if stale {
		s.expire(ctx, msgExpired, "warning_unanswered")
		return
	}

	if !s.verify || !creds.AccessExpiresAt.After(now) {
		return
	}
	if _, err := s.api.Me(ctx, creds.AccessToken); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.expire(ctx, msgRevoked, "revoked")
			return
		}
		s.log.Debug("authclient.verify.fail", "err", err)
	}
}

// DismissWarning clears a shown expiry warning.
func (s *Store) DismissWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnedAt = time.Time{}
}

// HandleRevoked applies a server push. An empty sessionID revokes every
// session of the user.
func (s *Store) HandleRevoked(ctx context.Context, sessionID, reason string) {
	creds, ok := s.Credentials()
	if !ok {
		return
	}
	if sessionID != "" && sessionID != creds.SessionID {
		return
	}
	s.log.Info("authclient.session.revoked", "session_id", creds.SessionID, "reason", reason)
	s.notifier.Notify(ctx, keeper.Notice{Level: keeper.LevelError, Message: msgRevoked})
	s.Forget()
}

// Logout ends the session locally, then tells the server (best effort).
func (s *Store) Logout(ctx context.Context) error {
	creds, ok := s.Credentials()
	s.Forget()
	if !ok {
		return nil
	}
	if !creds.AccessExpiresAt.After(s.now()) {
		return nil
	}
	if err := s.api.Logout(ctx, creds.AccessToken); err != nil && !errors.Is(err, ErrUnauthorized) {
		s.log.Warn("authclient.logout.remote.fail", "session_id", creds.SessionID, "err", err)
	}
	s.log.Info("authclient.logout", "session_id", creds.SessionID)
	return nil
}

// Forget drops the session locally without contacting the server.
func (s *Store) Forget() {
	s.mu.Lock()
	if s.creds == nil {
		s.mu.Unlock()
		return
	}
	s.creds = nil
	s.warnedAt = time.Time{}
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(); err != nil {
			s.log.Warn("authclient.persist.clear.fail", "err", err)
		}
	}
	s.publish()
}

// Subscribe registers fn for session mutations.
func (s *Store) Subscribe(fn func()) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *Store) expire(ctx context.Context, msg, reason string) {
	s.log.Info("authclient.session.expired", "reason", reason)
	s.notifier.Notify(ctx, keeper.Notice{Level: keeper.LevelError, Message: msg})
	if err := s.Logout(ctx); err != nil {
		s.log.Warn("authclient.logout.fail", "err", err)
	}
}

func (s *Store) set(creds Credentials) {
	s.mu.Lock()
	c := creds
	s.creds = &c
	s.warnedAt = time.Time{}
	s.mu.Unlock()

	s.save(creds)
	s.publish()
}

func (s *Store) save(creds Credentials) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(creds); err != nil {
		s.log.Warn("authclient.persist.save.fail", "err", err)
	}
}

func (s *Store) publish() {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
