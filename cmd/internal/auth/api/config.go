package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the auth endpoints.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP login failures tolerated within LoginIPWindow.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// LoginUserWindow is how far back failures for one username are counted
	// against the lockout tiers.
	LoginUserWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	// Web transport: refresh token in an HttpOnly cookie guarded by a
	// double-submit CSRF cookie and an Origin check.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
	AllowedOrigins          []string
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20,
		LoginIPMax:              20,
		LoginIPWindow:           5 * time.Minute,
		LoginUserWindow:         2 * time.Hour,
		LockoutShortThreshold:   5,
		LockoutShortDuration:    5 * time.Minute,
		LockoutLongThreshold:    10,
		LockoutLongDuration:     30 * time.Minute,
		LockoutSevereThreshold:  20,
		LockoutSevereDuration:   2 * time.Hour,
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "panel_refresh",
		CSRFCookieName:          "panel_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
	}
}

// LoadConfigFromEnv reads PANEL_AUTH_* variables over DefaultConfig.
// Invalid values fall back to the default.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:              envBool("PANEL_AUTH_TRUST_PROXY", d.TrustProxy),
		MaxBodyBytes:            envInt64("PANEL_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		LoginIPMax:              envInt("PANEL_AUTH_LOGIN_IP_MAX", d.LoginIPMax),
		LoginIPWindow:           envDuration("PANEL_AUTH_LOGIN_IP_WINDOW", d.LoginIPWindow),
		LoginUserWindow:         envDuration("PANEL_AUTH_LOGIN_USER_WINDOW", d.LoginUserWindow),
		LockoutShortThreshold:   envInt("PANEL_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", d.LockoutShortThreshold),
		LockoutShortDuration:    envDuration("PANEL_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", d.LockoutShortDuration),
		LockoutLongThreshold:    envInt("PANEL_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", d.LockoutLongThreshold),
		LockoutLongDuration:     envDuration("PANEL_AUTH_LOGIN_LOCKOUT_LONG_DURATION", d.LockoutLongDuration),
		LockoutSevereThreshold:  envInt("PANEL_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", d.LockoutSevereThreshold),
		LockoutSevereDuration:   envDuration("PANEL_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", d.LockoutSevereDuration),
		WebRefreshCookieEnabled: envBool("PANEL_AUTH_WEB_REFRESH_COOKIE", d.WebRefreshCookieEnabled),
		RefreshCookieName:       envString("PANEL_AUTH_REFRESH_COOKIE_NAME", d.RefreshCookieName),
		CSRFCookieName:          envString("PANEL_AUTH_CSRF_COOKIE_NAME", d.CSRFCookieName),
		CSRFHeaderName:          envString("PANEL_AUTH_CSRF_HEADER_NAME", d.CSRFHeaderName),
		CookiePath:              envString("PANEL_AUTH_COOKIE_PATH", d.CookiePath),
		CookieDomain:            envString("PANEL_AUTH_COOKIE_DOMAIN", d.CookieDomain),
		CookieSecure:            envBool("PANEL_AUTH_COOKIE_SECURE", d.CookieSecure),
		CookieSameSite:          parseSameSite(envString("PANEL_AUTH_COOKIE_SAMESITE", "strict")),
		AllowedOrigins:          envCSV("PANEL_AUTH_ALLOWED_ORIGINS"),
	}

	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envCSV(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
