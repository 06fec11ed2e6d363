package keeper

import (
	"errors"
	"time"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid keeper config")

	// ErrRefreshTimeout is returned when a refresh call outlives Config.RefreshTimeout.
	ErrRefreshTimeout = errors.New("refresh timed out")
)

// Config holds the coordinator's timing policy.
//
// The env tags are read by envdecode when the config is embedded in a
// process-level config struct.
type Config struct {
	// LeadTime is how long before expiry the proactive refresh fires.
	LeadTime time.Duration `env:"PANEL_KEEPER_LEAD_TIME,default=10m"`

	// ImmediateThreshold: a session this close to expiry at schedule time is
	// refreshed right away instead of waiting for a timer.
	ImmediateThreshold time.Duration `env:"PANEL_KEEPER_IMMEDIATE_THRESHOLD,default=5m"`

	// TriggerThreshold: focus/visibility events refresh a session this close to expiry.
	TriggerThreshold time.Duration `env:"PANEL_KEEPER_TRIGGER_THRESHOLD,default=15m"`

	MaxRetries  int           `env:"PANEL_KEEPER_MAX_RETRIES,default=3"`
	BackoffBase time.Duration `env:"PANEL_KEEPER_BACKOFF_BASE,default=1s"`

	// ExpiryCheckInterval is the period of Store.CheckSessionExpiry calls
	// while authenticated.
	ExpiryCheckInterval time.Duration `env:"PANEL_KEEPER_EXPIRY_CHECK_INTERVAL,default=60s"`

	// RefreshTimeout bounds a single refresh call. A timed-out call counts as
	// a failed attempt. Zero disables the bound.
	RefreshTimeout time.Duration `env:"PANEL_KEEPER_REFRESH_TIMEOUT,default=30s"`
}

// DefaultConfig returns the standard policy: refresh 10 minutes ahead,
// immediately inside 5 minutes, on focus inside 15 minutes, 3 retries
// starting at 1s, expiry self-check every minute.
func DefaultConfig() Config {
	return Config{
		LeadTime:            10 * time.Minute,
		ImmediateThreshold:  5 * time.Minute,
		TriggerThreshold:    15 * time.Minute,
		MaxRetries:          3,
		BackoffBase:         time.Second,
		ExpiryCheckInterval: 60 * time.Second,
		RefreshTimeout:      30 * time.Second,
	}
}

// Validate reports ErrConfig for values the coordinator cannot run with.
func (c Config) Validate() error {
	switch {
	case c.LeadTime <= 0,
		c.ImmediateThreshold < 0,
		c.TriggerThreshold < 0,
		c.MaxRetries < 0 || c.MaxRetries > 16,
		c.BackoffBase <= 0,
		c.ExpiryCheckInterval <= 0,
		c.RefreshTimeout < 0:
		return ErrConfig
	}
	return nil
}

// Backoff returns the delay before retry number retry+1: BackoffBase * 2^retry.
func (c Config) Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	return c.BackoffBase << uint(retry)
}
