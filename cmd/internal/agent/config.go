package agent

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panel/cmd/internal/auth/keeper"

	"github.com/joeshaw/envdecode"
)

// ErrConfig is returned for an unusable agent configuration.
var ErrConfig = errors.New("invalid agent config")

// Config is decoded from PANEL_AGENT_* and PANEL_KEEPER_* variables.
type Config struct {
	ServerURL string `env:"PANEL_AGENT_SERVER_URL,default=http://127.0.0.1:8080"`

	// Used to sign in when no saved session can be restored.
	Username string `env:"PANEL_AGENT_USERNAME"`
	Password string `env:"PANEL_AGENT_PASSWORD"`

	// Defaults to <user config dir>/panel/session.json.
	SessionFile string `env:"PANEL_AGENT_SESSION_FILE"`

	Platform     string        `env:"PANEL_AGENT_PLATFORM,default=desktop"`
	RememberMe   bool          `env:"PANEL_AGENT_REMEMBER_ME,default=true"`
	VerifyRemote bool          `env:"PANEL_AGENT_VERIFY_REMOTE,default=false"`
	HTTPTimeout  time.Duration `env:"PANEL_AGENT_HTTP_TIMEOUT,default=15s"`

	// Events enables the session-events stream.
	Events           bool          `env:"PANEL_AGENT_EVENTS,default=true"`
	EventsOrigin     string        `env:"PANEL_AGENT_EVENTS_ORIGIN"`
	ReconnectMin     time.Duration `env:"PANEL_AGENT_RECONNECT_MIN,default=1s"`
	ReconnectMax     time.Duration `env:"PANEL_AGENT_RECONNECT_MAX,default=1m"`
	WatchDebounce    time.Duration `env:"PANEL_AGENT_WATCH_DEBOUNCE,default=200ms"`
	MetricsAddr      string        `env:"PANEL_AGENT_METRICS_ADDR"`
	LogLevel         string        `env:"PANEL_AGENT_LOG_LEVEL,default=info"`
	LogFormat        string        `env:"PANEL_AGENT_LOG_FORMAT,default=pretty"`
	ShutdownTimeout  time.Duration `env:"PANEL_AGENT_SHUTDOWN_TIMEOUT,default=5s"`
	LogoutOnShutdown bool          `env:"PANEL_AGENT_LOGOUT_ON_SHUTDOWN,default=false"`

	Keeper keeper.Config
}

// LoadConfig decodes the environment and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.SessionFile = filepath.Join(dir, "panel", "session.json")
	}
	return cfg, cfg.Validate()
}

// Validate checks the server URL, reconnect bounds and keeper policy.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: PANEL_AGENT_SERVER_URL must be an http(s) URL", ErrConfig)
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("%w: PANEL_AGENT_USERNAME and PANEL_AGENT_PASSWORD go together", ErrConfig)
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("%w: reconnect bounds", ErrConfig)
	}
	if err := c.Keeper.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// eventsURL maps the API base URL to the /ws endpoint.
func eventsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
