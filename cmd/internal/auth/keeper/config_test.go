package keeper

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LeadTime != 10*time.Minute || cfg.ImmediateThreshold != 5*time.Minute || cfg.TriggerThreshold != 15*time.Minute {
		t.Fatalf("unexpected thresholds: %+v", cfg)
	}
	if cfg.MaxRetries != 3 || cfg.ExpiryCheckInterval != time.Minute {
		t.Fatalf("unexpected retry/interval: %+v", cfg)
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
	if got := cfg.Backoff(-1); got != time.Second {
		t.Fatalf("Backoff(-1) = %v, want 1s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero lead", func(c *Config) { c.LeadTime = 0 }},
		{"negative immediate", func(c *Config) { c.ImmediateThreshold = -time.Second }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"huge retries", func(c *Config) { c.MaxRetries = 64 }},
		{"zero backoff", func(c *Config) { c.BackoffBase = 0 }},
		{"zero interval", func(c *Config) { c.ExpiryCheckInterval = 0 }},
		{"negative timeout", func(c *Config) { c.RefreshTimeout = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackoffBase = 0
	if _, err := New(newFakeStore(newFakeClock()), cfg, Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
