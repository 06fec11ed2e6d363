package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 16
	wsMinSendQueueSize     = 4
	wsDefaultWriteTimeout  = 5 * time.Second

	// Origin is required by default and only localhost is allowed until
	// PANEL_WS_ALLOWED_ORIGINS says otherwise.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config is the gateway's connection policy.
type Config struct {
	// DevInsecure disables websocket.Accept's own origin verification.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout  time.Duration
	SendQueueSize int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadConfigFromEnv reads PANEL_WS_* over DefaultConfig.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		DevInsecure:      envBoolWS("PANEL_WS_DEV_INSECURE", false),
		OriginRequired:   envBoolWS("PANEL_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins:   splitCSV(envStringWS("PANEL_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)),
		WriteTimeout:     envDurationWS("PANEL_WS_WRITE_TIMEOUT", d.WriteTimeout),
		SendQueueSize:    envIntWS("PANEL_WS_SEND_QUEUE", d.SendQueueSize),
		HeartbeatEvery:   envDurationWS("PANEL_WS_HEARTBEAT_INTERVAL", d.HeartbeatEvery),
		HeartbeatTimeout: envDurationWS("PANEL_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),
		RateEvents:       envIntWS("PANEL_WS_RATE_EVENTS", d.RateEvents),
		RateWindow:       envDurationWS("PANEL_WS_RATE_WINDOW", d.RateWindow),
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	return cfg
}

func envStringWS(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBoolWS(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
