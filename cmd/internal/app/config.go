package app

import "time"

// Config contains the server runtime configuration loaded from PANEL_* variables.
// Subsystems (session, authapi, ratelimit, realtime) load their own.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Empty selects in-memory stores.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// Empty selects the in-process rate-limit store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Created on startup when the account store is empty.
	BootstrapAdminUsername string
	BootstrapAdminPassword string

	// If true, PANEL_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh
	// tokens are stored as HMAC-SHA256 digests.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PANEL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PANEL_LOG_LEVEL", "info"),
		LogFormat: EnvString("PANEL_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PANEL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PANEL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PANEL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PANEL_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PANEL_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("PANEL_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("PANEL_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PANEL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PANEL_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PANEL_READINESS_REQUIRE_DB", false),

		RedisAddr:     EnvString("PANEL_REDIS_ADDR", ""),
		RedisPassword: EnvString("PANEL_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("PANEL_REDIS_DB", 0),

		CORSAllowedOrigins:   EnvCSV("PANEL_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("PANEL_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("PANEL_CORS_MAX_AGE_SECONDS", 600),

		BootstrapAdminUsername: EnvString("PANEL_BOOTSTRAP_ADMIN_USERNAME", ""),
		BootstrapAdminPassword: EnvString("PANEL_BOOTSTRAP_ADMIN_PASSWORD", ""),

		RequireTokenHMAC: EnvBool("PANEL_REQUIRE_TOKEN_HMAC", false),
	}
}
