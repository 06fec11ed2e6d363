package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls token lifetimes and signing for the session subsystem.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL is the access-token lifetime. Clients refresh ahead of it.
	AccessTokenTTL time.Duration

	// Refresh-token lifetimes per platform.
	RefreshTTLWeb         time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	// ClockSkew is tolerated during access-token verification.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// RefreshMinInterval is the shortest allowed gap between two refreshes of
	// the same session chain. Zero disables the check.
	RefreshMinInterval time.Duration

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key for v4.public tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns development defaults. The signing key is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:                "panel",
		AccessTokenTTL:        time.Hour,
		RefreshTTLWeb:         24 * time.Hour,
		RefreshTTLNative:      30 * 24 * time.Hour,
		RefreshTTLNativeShort: 7 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		RefreshMinInterval:    time.Second,
	}
}

// LoadConfigFromEnv reads PANEL_AUTH_* variables over DefaultConfig.
//
// Required: PANEL_PASETO_V4_SECRET_KEY_HEX.
// Optional durations: PANEL_AUTH_ACCESS_TTL, PANEL_AUTH_REFRESH_TTL_WEB,
// PANEL_AUTH_REFRESH_TTL_NATIVE, PANEL_AUTH_REFRESH_TTL_NATIVE_SHORT,
// PANEL_AUTH_CLOCK_SKEW, PANEL_AUTH_REFRESH_MIN_INTERVAL.
// Optional: PANEL_AUTH_ISSUER, PANEL_AUTH_REFRESH_TOKEN_BYTES (32..64).
//
// Any invalid value yields ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PANEL_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		name      string
		dst       *time.Duration
		allowZero bool
	}{
		{"PANEL_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"PANEL_AUTH_REFRESH_TTL_WEB", &cfg.RefreshTTLWeb, false},
		{"PANEL_AUTH_REFRESH_TTL_NATIVE", &cfg.RefreshTTLNative, false},
		{"PANEL_AUTH_REFRESH_TTL_NATIVE_SHORT", &cfg.RefreshTTLNativeShort, false},
		{"PANEL_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"PANEL_AUTH_REFRESH_MIN_INTERVAL", &cfg.RefreshMinInterval, true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.name))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("PANEL_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("PANEL_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}
	if cfg.RefreshTTLNative < cfg.RefreshTTLNativeShort {
		return Config{}, ErrConfig
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTTLWeb {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
