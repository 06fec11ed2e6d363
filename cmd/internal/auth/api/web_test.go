package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"panel/cmd/internal/auth/session"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport(session.PlatformWeb) {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport(session.PlatformDesktop) {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "panel_refresh",
		CSRFCookieName:          "panel_csrf",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
	}}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, "refresh-token-123", exp)
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		switch c.Name {
		case "panel_refresh":
			if !c.HttpOnly || c.Value != "refresh-token-123" {
				t.Fatalf("refresh cookie = %+v", c)
			}
		case "panel_csrf":
			if c.HttpOnly || c.Value != csrf {
				t.Fatalf("csrf cookie = %+v", c)
			}
		default:
			t.Fatalf("unexpected cookie %q", c.Name)
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		CSRFCookieName:          "panel_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "panel_csrf", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "panel_refresh",
	}}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "panel_refresh", Value: "tok-123"})

	token, ok := h.refreshTokenFromCookie(req)
	if !ok || token != "tok-123" {
		t.Fatalf("refreshTokenFromCookie = %q, %v", token, ok)
	}

	h.cfg.WebRefreshCookieEnabled = false
	if _, ok := h.refreshTokenFromCookie(req); ok {
		t.Fatalf("cookie transport disabled must ignore the cookie")
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "missing origin", origin: "", want: false},
		{name: "null origin", origin: "null", want: false},
		{name: "same host", origin: "http://panel.local", want: true},
		{name: "other host", origin: "http://evil.example", want: false},
		{name: "allow-list hit", allowed: []string{"https://panel.example.org"}, origin: "https://panel.example.org", want: true},
		{name: "allow-list miss", allowed: []string{"https://panel.example.org"}, origin: "http://panel.local", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{cfg: Config{AllowedOrigins: tc.allowed}}
			req := httptest.NewRequest(http.MethodPost, "http://panel.local/auth/refresh", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := h.originAllowed(req); got != tc.want {
				t.Fatalf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}

func TestClearWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "panel_refresh",
		CSRFCookieName:          "panel_csrf",
		CookiePath:              "/auth",
	}}

	rr := httptest.NewRecorder()
	h.clearWebSessionCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.Value != "" || c.MaxAge >= 0 || c.Path != "/auth" {
			t.Fatalf("cookie %q not expired: %+v", c.Name, c)
		}
	}

	h.cfg.WebRefreshCookieEnabled = false
	rr = httptest.NewRecorder()
	h.clearWebSessionCookies(rr)
	if n := len(rr.Result().Cookies()); n != 0 {
		t.Fatalf("disabled transport set %d cookies", n)
	}
}
