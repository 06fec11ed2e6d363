package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls the middleware.
type Config struct {
	Enabled    bool
	TrustProxy bool
	Rules      []Rule

	// CleanupInterval is how often a MemoryStore sweeps expired windows.
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Rules:           DefaultRules(),
		CleanupInterval: defaultCleanupInterval,
	}
}

// ErrConfig reports a malformed PANEL_RATE_LIMIT_* value.
var ErrConfig = errors.New("invalid rate limit config")

// LoadConfigFromEnv reads PANEL_RATE_LIMIT_* over DefaultConfig. Unset
// variables keep their defaults; a value that does not parse yields ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	bools := []struct {
		name string
		dst  *bool
	}{
		{"PANEL_RATE_LIMIT_ENABLED", &cfg.Enabled},
		{"PANEL_RATE_LIMIT_TRUST_PROXY", &cfg.TrustProxy},
	}
	for _, b := range bools {
		v := strings.TrimSpace(os.Getenv(b.name))
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrConfig, b.name, v)
		}
		*b.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("PANEL_RATE_LIMIT_CLEANUP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: PANEL_RATE_LIMIT_CLEANUP_INTERVAL=%q", ErrConfig, v)
		}
		cfg.CleanupInterval = d
	}
	return cfg, nil
}

// IdentityFunc returns the user id of an authenticated request.
type IdentityFunc func(r *http.Request) (userID string, ok bool)

// Limiter applies Config.Rules to requests.
type Limiter struct {
	cfg      Config
	store    Store
	identity IdentityFunc
	log      *slog.Logger
	now      func() time.Time
	metrics  *Metrics
}

type Option func(*Limiter)

func WithIdentity(fn IdentityFunc) Option {
	return func(l *Limiter) { l.identity = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(cfg Config, store Store, opts ...Option) *Limiter {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	l := &Limiter{
		cfg:   cfg,
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Middleware counts each request against its rule and answers 429 once the
// window's budget is spent. Store errors let the request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil || !l.cfg.Enabled || l.store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := match(l.cfg.Rules, r.URL.Path)
		if !ok || rule.Max <= 0 || rule.Window <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := l.now()
		key := rule.name() + ":" + l.clientKey(r)
		count, resetAt, err := l.store.Hit(r.Context(), key, rule.Window, now)
		if err != nil {
			l.log.Warn("ratelimit.store.fail", "rule", rule.name(), "err", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rule.Max - count
		if remaining < 0 {
			remaining = 0
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(rule.Max, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count > rule.Max {
			retry := int64(math.Ceil(resetAt.Sub(now).Seconds()))
			if retry < 1 {
				retry = 1
			}
			h.Set("Retry-After", strconv.FormatInt(retry, 10))
			l.metrics.rejected(rule.name())
			l.log.Info("ratelimit.rejected", "rule", rule.name(), "key", key, "retry_after_s", retry)
			writeLimited(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.identity != nil {
		if uid, ok := l.identity(r); ok && uid != "" {
			return "user:" + uid
		}
	}
	if ip := ClientIP(r, l.cfg.TrustProxy); ip != nil {
		return "ip:" + ip.String()
	}
	return "ip:unknown"
}

func writeLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"}}` + "\n"))
}

// ClientIP is the caller's address: the first valid X-Forwarded-For hop or
// X-Real-IP when trustProxy is set, else the connection's peer.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		for _, p := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Metrics counts rejections per rule. A nil *Metrics records nothing.
type Metrics struct {
	rejections *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panel",
				Subsystem: "ratelimit",
				Name:      "rejections_total",
				Help:      "Requests answered 429, by rule.",
			},
			[]string{"rule"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.rejections)
	}
	return m
}

func (m *Metrics) rejected(rule string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(rule).Inc()
}
