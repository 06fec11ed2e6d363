package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"panel/cmd/identity"
	"panel/cmd/internal/auth/session"
	"panel/cmd/internal/ratelimit"
)

// Handler wires HTTP auth endpoints to the account and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts *identity.Accounts
	sessions *session.Service
	audit    AuditStore

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditStore overrides the default in-memory audit log.
func WithAuditStore(store AuditStore) HandlerOption {
	return func(h *Handler) {
		if store != nil {
			h.audit = store
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, accounts *identity.Accounts, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil {
		return nil, errors.New("authapi: nil accounts")
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		audit:    NewMemoryAuditStore(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	norm := identity.NormalizeUsername(username)
	base := AuditEvent{At: now, UsernameNorm: norm, IP: ip, UserAgent: ua}

	// Throttling runs before the password hash is touched.
	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.record(ctx, base, EventLoginRateLimited, "ip")
		writeRateLimited(w, retryAfter, "login_rate_limited", "too many login attempts")
		return
	}
	if blocked, retryAfter, err := h.checkLoginUserThrottle(ctx, norm, now); err != nil {
		h.log.Error("auth.login.throttle_user.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.record(ctx, base, EventLoginRateLimited, "lockout")
		writeRateLimited(w, retryAfter, "login_rate_limited", "too many login attempts")
		return
	}

	user, err := h.accounts.Authenticate(ctx, username, req.Password, now)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			h.record(ctx, base, EventLoginFailed, "invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case identity.IsNotActive(err):
			h.record(ctx, base, EventLoginFailed, "account_disabled")
			writeError(w, http.StatusForbidden, "account_disabled", "account disabled")
		default:
			h.log.Error("auth.login.authenticate.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	platform := session.ParsePlatform(req.Platform)
	issued, err := h.sessions.IssueSession(ctx, now, user.ID, session.DeviceContext{
		Platform:   platform,
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	})
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	base.UserID, base.SessionID = user.ID, issued.SessionID
	h.record(ctx, base, EventLoginSuccess, "")
	h.log.Info("auth.login.ok", "user_id", user.ID, "session_id", issued.SessionID, "platform", platform)

	respSession := toSessionResponse(issued)
	if h.shouldUseWebCookieTransport(platform) {
		csrf, err := h.setWebSessionCookies(w, issued.RefreshToken, issued.RefreshExp)
		if err != nil {
			h.log.Error("auth.login.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		respSession.RefreshToken = ""
		respSession.CSRFToken = csrf
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(user),
		Session: respSession,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		if cookieToken, ok := h.refreshTokenFromCookie(r); ok {
			refreshToken, fromCookie = cookieToken, true
		}
	}
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie {
		if !h.originAllowed(r) {
			writeError(w, http.StatusForbidden, "origin_invalid", "origin not allowed")
			return
		}
		if !h.csrfDoubleSubmitValid(r) {
			writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
			return
		}
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	base := AuditEvent{At: now, IP: ip, UserAgent: ua}

	dev := session.DeviceContext{
		Platform:   session.ParsePlatform(req.Platform),
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	}
	if fromCookie && dev.Platform == session.PlatformUnknown {
		dev.Platform = session.PlatformWeb
	}

	issued, err := h.sessions.RotateRefresh(ctx, now, refreshToken, dev)
	if err != nil {
		var rlErr session.RefreshRateLimitError
		switch {
		case errors.As(err, &rlErr):
			base.SessionID = rlErr.SessionID
			h.record(ctx, base, EventRefreshRateLimited, "")
			writeRateLimited(w, rlErr.RetryAfter, "refresh_rate_limited", "refresh attempted too frequently")
			return
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.record(ctx, base, EventRefreshReuse, "")
			writeError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionRevoked), errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		if fromCookie {
			h.clearWebSessionCookies(w)
		}
		return
	}

	base.SessionID = issued.SessionID
	h.record(ctx, base, EventRefreshSuccess, "")

	respSession := toSessionResponse(issued)
	if fromCookie || h.shouldUseWebCookieTransport(dev.Platform) {
		csrf, err := h.setWebSessionCookies(w, issued.RefreshToken, issued.RefreshExp)
		if err != nil {
			h.log.Error("auth.refresh.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		respSession.RefreshToken = ""
		respSession.CSRFToken = csrf
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: respSession})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	if err := h.sessions.RevokeSession(ctx, now, claims.SessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
			return
		}
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(ctx, AuditEvent{
		At:        now,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}, EventLogout, "")
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	if err := h.sessions.RevokeAll(ctx, now, claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.record(ctx, AuditEvent{
		At:        now,
		UserID:    claims.UserID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}, EventLogoutAll, "")
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	u, err := h.accounts.Store().GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !u.Active() {
		writeError(w, http.StatusForbidden, "account_disabled", "account disabled")
		return
	}

	if err := h.sessions.TouchSession(ctx, h.now().UTC(), claims.SessionID); err != nil {
		h.log.Debug("auth.me.touch.fail", "session_id", claims.SessionID, "err", err)
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u), SessionID: claims.SessionID})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), token, h.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		case errors.Is(err, session.ErrSessionRevoked), errors.Is(err, session.ErrSessionExpired), errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.validate.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) record(ctx context.Context, ev AuditEvent, event, reason string) {
	ev.Event, ev.Reason = event, reason
	if err := h.audit.Record(ctx, ev); err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "event", event)
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	return ratelimit.ClientIP(r, trustProxy)
}
