package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"panel/cmd/security/token"
)

// maxRefreshTokenLen bounds presented refresh tokens before hashing.
const maxRefreshTokenLen = 4096

// RevocationListener is told about sessions revoked on the server so that
// connected clients can be signed out. An empty sessionID means every
// session of the user.
type RevocationListener interface {
	SessionRevoked(userID, sessionID, reason string)
}

// RevocationListenerFunc adapts a function to RevocationListener.
type RevocationListenerFunc func(userID, sessionID, reason string)

func (f RevocationListenerFunc) SessionRevoked(userID, sessionID, reason string) {
	f(userID, sessionID, reason)
}

// Option configures a Service.
type Option func(*Service)

// WithHasher sets the refresh-token digest. The default is unkeyed SHA-256.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithRevocationListener registers l for revocations. May be repeated.
func WithRevocationListener(l RevocationListener) Option {
	return func(s *Service) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service issues, validates, rotates and revokes sessions.
type Service struct {
	cfg       Config
	store     Store
	tokens    AccessTokenManager
	hasher    token.Hasher
	listeners []RevocationListener
	log       *slog.Logger
}

// Issued is a freshly minted token pair.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

func NewService(cfg Config, store Store, tokens AccessTokenManager, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		hasher: token.NewHasher(nil),
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRevocationListener registers l after construction.
func (s *Service) AddRevocationListener(l RevocationListener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) refreshTTL(dev DeviceContext) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return s.cfg.RefreshTTLWeb
	case PlatformDesktop, PlatformIOS, PlatformAndroid:
		if dev.RememberMe {
			return s.cfg.RefreshTTLNative
		}
		return s.cfg.RefreshTTLNativeShort
	default:
		return s.cfg.RefreshTTLWeb
	}
}

func (s *Service) newRefresh(now time.Time, dev DeviceContext) (plain, hash string, exp time.Time, err error) {
	plain, err = token.NewOpaque(s.cfg.RefreshTokenBytes)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return plain, s.hasher.Hash(plain), now.Add(s.refreshTTL(dev)), nil
}

// IssueSession starts a new session chain for userID.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	refreshPlain, refreshHash, refreshExp, err := s.newRefresh(now, dev)
	if err != nil {
		return Issued{}, err
	}

	sessionID, err := s.store.Create(ctx, now, userID, dev, refreshHash, refreshExp)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(userID, sessionID, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		SessionID:    sessionID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
	}, nil
}

// ValidateAccessToken verifies token and checks that its session is still
// active, so revocation takes effect before the token expires.
func (s *Service) ValidateAccessToken(ctx context.Context, tok string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		return AccessClaims{}, err
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}
	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}
	return claims, nil
}

// RotateRefresh exchanges a refresh token for a new session link.
//
//   - an unknown token is ErrSessionNotFound;
//   - an expired link is ErrSessionExpired;
//   - a token that was already rotated revokes every session of the user and
//     returns ErrRefreshReuseDetected;
//   - a revoked link is ErrSessionRevoked;
//   - a refresh sooner than RefreshMinInterval after the previous one is a
//     RefreshRateLimitError.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshPlain string, dev DeviceContext) (Issued, error) {
	refreshPlain = strings.TrimSpace(refreshPlain)
	if refreshPlain == "" || len(refreshPlain) > maxRefreshTokenLen {
		return Issued{}, ErrSessionNotFound
	}

	var (
		out       Issued
		reuseUser string
	)
	err := s.store.Rotate(ctx, s.hasher.Hash(refreshPlain), func(ctx context.Context, row Row, tx RotationTx) error {
		if !row.ExpiresAt.After(now) {
			return ErrSessionExpired
		}
		if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
			if err := tx.RevokeAll(ctx, now, row.UserID, ReasonReuseDetected); err != nil {
				return err
			}
			reuseUser = row.UserID
			return ErrRefreshReuseDetected
		}
		if row.RevokedAt != nil {
			return ErrSessionRevoked
		}
		if gap := s.cfg.RefreshMinInterval; gap > 0 {
			if since := now.Sub(row.CreatedAt); since < gap {
				return RefreshRateLimitError{SessionID: row.ID, RetryAfter: gap - since}
			}
		}

		nextPlain, nextHash, nextExp, err := s.newRefresh(now, dev)
		if err != nil {
			return err
		}
		newID, err := tx.Create(ctx, now, row.UserID, dev, nextHash, nextExp)
		if err != nil {
			return err
		}
		if err := tx.MarkRotated(ctx, now, row.ID, newID); err != nil {
			return err
		}
		accessToken, accessExp, err := s.tokens.Issue(row.UserID, newID, now)
		if err != nil {
			return err
		}
		out = Issued{
			SessionID:    newID,
			AccessToken:  accessToken,
			AccessExp:    accessExp,
			RefreshToken: nextPlain,
			RefreshExp:   nextExp,
		}
		return nil
	})
	if reuseUser != "" && errors.Is(err, ErrRefreshReuseDetected) {
		s.log.Warn("session.refresh.reuse_detected", "user_id", reuseUser)
		s.notify(reuseUser, "", ReasonReuseDetected)
	}
	if err != nil {
		return Issued{}, err
	}
	return out, nil
}

// RevokeSession ends one session. Revoking an unknown session is
// ErrSessionNotFound; revoking twice is not an error.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID string) error {
	row, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, now, sessionID, ReasonLogout); err != nil {
		return err
	}
	s.notify(row.UserID, sessionID, ReasonLogout)
	return nil
}

// RevokeAll ends every session of userID.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) error {
	if err := s.store.RevokeAll(ctx, now, userID, ReasonLogoutAll); err != nil {
		return err
	}
	s.notify(userID, "", ReasonLogoutAll)
	return nil
}

// TouchSession records activity on a session.
func (s *Service) TouchSession(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}

func (s *Service) notify(userID, sessionID, reason string) {
	for _, l := range s.listeners {
		l.SessionRevoked(userID, sessionID, reason)
	}
}
