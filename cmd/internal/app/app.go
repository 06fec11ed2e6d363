// Package app wires the panel server runtime: config, stores, auth routes,
// rate limiting, the session-events gateway and HTTP lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"panel/cmd/identity"
	authapi "panel/cmd/internal/auth/api"
	"panel/cmd/internal/auth/session"
	"panel/cmd/internal/ratelimit"
	"panel/cmd/internal/realtime"
	"panel/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the panel server: it owns the stores, HTTP wiring and the events gateway.
type App struct {
	cfg Config
	log *slog.Logger
	reg *prometheus.Registry

	pool  *pgxpool.Pool
	redis *redis.Client

	tokens   session.AccessTokenManager
	sessions *session.Service
	accounts *identity.Accounts
	auth     *authapi.Handler
	ws       *realtime.Gateway
	limiter  *ratelimit.Limiter
	metrics  *httpMetrics

	closers []io.Closer
}

// New constructs a fully wired App. A failure releases everything opened so far.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, reg: newRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	hasher, err := tokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	a.tokens, err = session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	var (
		userStore  identity.Store
		sessStore  session.Store
		auditStore authapi.AuditStore
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		userStore = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
		auditStore = authapi.NewMemoryAuditStore()
	} else {
		a.pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.postgres_store")
		pgUsers, perr := identity.NewPostgresStore(a.pool)
		if perr != nil {
			return nil, perr
		}
		userStore = pgUsers
		sessStore = session.NewPostgresStore(a.pool)
		auditStore = authapi.NewPostgresAuditStore(a.pool)
	}

	hub := realtime.NewHub(log, a.reg)
	a.sessions = session.NewService(sessCfg, sessStore, a.tokens,
		session.WithHasher(hasher),
		session.WithRevocationListener(hub),
		session.WithLogger(log),
	)

	a.accounts = identity.NewAccounts(userStore, pwCfg, log)
	if err := a.bootstrapAdmin(ctx); err != nil {
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), a.accounts, a.sessions,
		authapi.WithAuditStore(auditStore),
	)
	if err != nil {
		return nil, err
	}
	a.ws = realtime.NewGateway(log, hub, a.sessions, realtime.LoadConfigFromEnv())

	rlCfg, err := ratelimit.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	rlStore, err := a.rateLimitStore(ctx, rlCfg)
	if err != nil {
		return nil, err
	}
	a.limiter = ratelimit.New(rlCfg, rlStore,
		ratelimit.WithIdentity(a.requestUser),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics(a.reg)),
	)
	a.metrics = newHTTPMetrics(a.reg)

	log.Info("server.init",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.redis != nil,
		"token_hmac", hasher.Keyed(),
		"rate_limit", rlCfg.Enabled,
	)
	return a, nil
}

func (a *App) bootstrapAdmin(ctx context.Context) error {
	user := strings.TrimSpace(a.cfg.BootstrapAdminUsername)
	if user == "" {
		return nil
	}
	if a.cfg.BootstrapAdminPassword == "" {
		return errors.New("PANEL_BOOTSTRAP_ADMIN_PASSWORD is required with PANEL_BOOTSTRAP_ADMIN_USERNAME")
	}
	if _, err := a.accounts.EnsureBootstrapAdmin(ctx, user, a.cfg.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

func (a *App) rateLimitStore(ctx context.Context, cfg ratelimit.Config) (ratelimit.Store, error) {
	if a.cfg.RedisAddr == "" {
		st := ratelimit.NewMemoryStore(cfg.CleanupInterval)
		a.closers = append(a.closers, st)
		return st, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = client
	a.closers = append(a.closers, client)
	a.log.Info("ratelimit.store.redis", "addr", a.cfg.RedisAddr)
	return ratelimit.NewRedisStore(client, ""), nil
}

// requestUser identifies rate-limit callers by a verified bearer token.
// Only the signature and expiry are checked; revocation is the handlers' job.
func (a *App) requestUser(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	claims, err := a.tokens.Verify(strings.TrimSpace(tok), time.Now().UTC())
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// Sessions exposes the session service, for wiring revocation listeners.
func (a *App) Sessions() *session.Service { return a.sessions }

// Accounts exposes the account service.
func (a *App) Accounts() *identity.Accounts { return a.accounts }

// Run serves HTTP until ctx is done or the listener fails, then shuts down
// gracefully within Config.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("server.close.fail", "err", err)
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Close releases stores without serving. Run closes on its own.
func (a *App) Close() { a.close() }

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
