package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("PANEL_AUTH_REFRESH_COOKIE_NAME", "panel_token")
	t.Setenv("PANEL_AUTH_CSRF_COOKIE_NAME", "panel_token")
	t.Setenv("PANEL_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("PANEL_AUTH_COOKIE_SECURE", "false")

	cfg := LoadConfigFromEnv()

	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		t.Fatalf("csrf cookie name must differ from refresh cookie name")
	}
	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PANEL_AUTH_LOGIN_IP_MAX", "7")
	t.Setenv("PANEL_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", "90s")
	t.Setenv("PANEL_AUTH_LOGIN_USER_WINDOW", "bogus")
	t.Setenv("PANEL_AUTH_ALLOWED_ORIGINS", " https://panel.example.org , ,https://admin.example.org")

	cfg := LoadConfigFromEnv()
	if cfg.LoginIPMax != 7 {
		t.Fatalf("LoginIPMax = %d", cfg.LoginIPMax)
	}
	if cfg.LockoutShortDuration != 90*time.Second {
		t.Fatalf("LockoutShortDuration = %v", cfg.LockoutShortDuration)
	}
	if cfg.LoginUserWindow != DefaultConfig().LoginUserWindow {
		t.Fatalf("invalid duration must fall back, got %v", cfg.LoginUserWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example.org" {
		t.Fatalf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "Lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		if got := parseSameSite(tc.in); got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
