package app

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"PANEL_HTTP_ADDR", "PANEL_DATABASE_URL", "PANEL_REDIS_ADDR", "PANEL_CORS_ALLOWED_ORIGINS", "PANEL_SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DatabaseURL != "" || cfg.RedisAddr != "" || cfg.CORSAllowedOrigins != nil {
		t.Fatalf("optional backends must default off: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 10*time.Second || cfg.DBMaxConns != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PANEL_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("PANEL_LOG_FORMAT", "pretty")
	t.Setenv("PANEL_REDIS_ADDR", "redis:6379")
	t.Setenv("PANEL_REDIS_DB", "2")
	t.Setenv("PANEL_CORS_ALLOWED_ORIGINS", "https://panel.example.org, ,http://127.0.0.1:*")
	t.Setenv("PANEL_HTTP_READ_TIMEOUT", "bogus")
	t.Setenv("PANEL_DB_MAX_CONNS", "-1")
	t.Setenv("PANEL_REQUIRE_TOKEN_HMAC", "true")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.LogFormat != "pretty" {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 2 {
		t.Fatalf("redis: %+v", cfg)
	}
	if want := []string{"https://panel.example.org", "http://127.0.0.1:*"}; !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ReadTimeout != 15*time.Second || cfg.DBMaxConns != 10 {
		t.Fatalf("invalid values must fall back: %+v", cfg)
	}
	if !cfg.RequireTokenHMAC {
		t.Fatalf("RequireTokenHMAC not read")
	}
}
