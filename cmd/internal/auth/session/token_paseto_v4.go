package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// AccessClaims is what an access token asserts about its bearer.
type AccessClaims struct {
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies access tokens.
type AccessTokenManager interface {
	Issue(userID, sessionID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

// GenerateSecretKeyHex returns a fresh Ed25519 secret key for
// PANEL_PASETO_V4_SECRET_KEY_HEX.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

type pasetoManager struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager signs v4.public tokens carrying uid and sid.
// Verification requires the configured issuer and tolerates cfg.ClockSkew.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	return &pasetoManager{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		skew:   cfg.ClockSkew,
		secret: secret,
		public: secret.Public(),
	}, nil
}

func (m *pasetoManager) PublicKeyHex() string { return m.public.ExportHex() }

func (m *pasetoManager) Issue(userID, sessionID string, now time.Time) (string, time.Time, error) {
	// Whole seconds keep exp identical on both sides of the wire.
	now = now.Truncate(time.Second)
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	if err := tok.Set("uid", userID); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("sid", sessionID); err != nil {
		return "", time.Time{}, err
	}
	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// Expiry is checked against the caller's clock below, not time.Now.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil || !exp.After(now) {
		return AccessClaims{}, ErrInvalidToken
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil || iat.After(now.Add(m.skew)) {
		return AccessClaims{}, ErrInvalidToken
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && nbf.After(now.Add(m.skew)) {
		return AccessClaims{}, ErrInvalidToken
	}

	claims := AccessClaims{UserID: uid, SessionID: sid, IssuedAt: iat, ExpiresAt: exp}
	claims.Issuer, _ = parsed.GetIssuer()
	return claims, nil
}
