package authapi

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"panel/cmd/internal/auth/session"
	"panel/cmd/security/token"
)

const csrfTokenBytes = 32

// Browser sessions never see the refresh token: it lives in an HttpOnly
// cookie scoped to /auth, and every cookie-borne refresh must echo the
// readable CSRF cookie in a header and come from an allowed Origin.

func (h *Handler) shouldUseWebCookieTransport(p session.Platform) bool {
	return h.cfg.WebRefreshCookieEnabled && p == session.PlatformWeb
}

// setWebSessionCookies stores the refresh token and a fresh CSRF token in
// cookies that expire with the session. It returns the CSRF token.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, refreshToken string, exp time.Time) (string, error) {
	csrf, err := token.NewOpaque(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, h.cookie(h.cfg.RefreshCookieName, refreshToken, exp, true))
	http.SetCookie(w, h.cookie(h.cfg.CSRFCookieName, csrf, exp, false))
	return csrf, nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if !h.cfg.WebRefreshCookieEnabled {
		return
	}
	for _, c := range []*http.Cookie{
		h.cookie(h.cfg.RefreshCookieName, "", time.Unix(0, 0).UTC(), true),
		h.cookie(h.cfg.CSRFCookieName, "", time.Unix(0, 0).UTC(), false),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *Handler) cookie(name, value string, exp time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	if !h.cfg.WebRefreshCookieEnabled {
		return "", false
	}
	v := cookieValue(r, h.cfg.RefreshCookieName)
	return v, v != ""
}

// csrfDoubleSubmitValid reports whether the CSRF header echoes the CSRF cookie.
func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	if !h.cfg.WebRefreshCookieEnabled {
		return false
	}
	c := cookieValue(r, h.cfg.CSRFCookieName)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if c == "" || len(c) != len(hv) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c), []byte(hv)) == 1
}

// originAllowed is the strict Origin check applied to cookie-borne
// refreshes. Without a configured allow-list the Origin must match the Host.
func (h *Handler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || origin == "null" {
		return false
	}
	if len(h.cfg.AllowedOrigins) > 0 {
		return slices.Contains(h.cfg.AllowedOrigins, origin)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
