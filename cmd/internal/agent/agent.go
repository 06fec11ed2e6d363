// Package agent runs the panel session keeper: it holds a signed-in session
// on disk, keeps it refreshed ahead of expiry, and drops it when the server
// revokes it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panel/cmd/internal/auth/authclient"
	"panel/cmd/internal/auth/keeper"
	"panel/cmd/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Agent wires the Session Store, the Coordinator and their event sources.
type Agent struct {
	cfg   Config
	log   *slog.Logger
	reg   *prometheus.Registry
	file  *authclient.FileStore
	store *authclient.Store
	coord *keeper.Coordinator
}

// New builds an Agent. Nothing runs until Run.
func New(cfg Config, log *slog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	notifier := logNotifier(log)

	client := authclient.NewClient(cfg.ServerURL,
		authclient.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		authclient.WithPlatform(cfg.Platform, cfg.RememberMe),
		authclient.WithUserAgent("panel-agent"),
	)
	file := authclient.NewFileStore(cfg.SessionFile)
	store := authclient.NewStore(client, authclient.StoreOptions{
		Notifier:     notifier,
		Logger:       log,
		Persist:      file,
		VerifyRemote: cfg.VerifyRemote,
	})
	coord, err := keeper.New(store, cfg.Keeper, keeper.Options{
		Notifier: notifier,
		Logger:   log,
		Metrics:  keeper.NewMetrics(reg),
	})
	if err != nil {
		return nil, err
	}
	return &Agent{cfg: cfg, log: log, reg: reg, file: file, store: store, coord: coord}, nil
}

// Store returns the agent's Session Store.
func (a *Agent) Store() *authclient.Store { return a.store }

// Run restores or establishes a session, starts the Coordinator and serves
// its event sources until ctx is done. The Coordinator is torn down before
// Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.signIn(ctx)

	a.coord.Start()
	defer a.coord.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.file.Watch(gctx, a.log, a.cfg.WatchDebounce, func(creds authclient.Credentials, ok bool) {
			if !ok {
				a.store.Forget()
				return
			}
			if a.store.Restore(creds) {
				a.log.Info("agent.session.reloaded", "session_id", creds.SessionID)
			}
		})
	})

	g.Go(func() error {
		watchTriggerSignals(gctx, a.coord, a.log)
		return nil
	})

	if a.cfg.Events {
		u, err := eventsURL(a.cfg.ServerURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfig, err)
		}
		stream := NewEventStream(u, a.cfg.EventsOrigin, a.store, a.coord, a.log, a.cfg.ReconnectMin, a.cfg.ReconnectMax)
		g.Go(func() error { return stream.Run(gctx) })
	}

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	a.log.Info("agent.start", "server", a.cfg.ServerURL, "session_file", a.file.Path(), "authenticated", a.store.IsAuthenticated())

	err := g.Wait()
	if a.cfg.LogoutOnShutdown {
		logoutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		if lerr := a.store.Logout(logoutCtx); lerr != nil {
			a.log.Warn("agent.logout.fail", "err", lerr)
		}
		cancel()
	}
	a.log.Info("agent.stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// signIn restores the saved session, falling back to configured credentials.
// Failing both leaves the agent waiting for a session file to appear.
func (a *Agent) signIn(ctx context.Context) {
	creds, err := a.file.Load()
	switch {
	case err == nil:
		if a.store.Restore(creds) {
			a.log.Info("agent.session.restored", "session_id", creds.SessionID)
		}
	case !errors.Is(err, authclient.ErrNoSavedSession):
		a.log.Warn("agent.session.load.fail", "path", a.file.Path(), "err", err)
	}
	if a.store.IsAuthenticated() || a.cfg.Username == "" {
		return
	}
	if err := a.store.Login(ctx, a.cfg.Username, a.cfg.Password); err != nil {
		a.log.Error("agent.login.fail", "username", a.cfg.Username, "err", err)
	}
}

func (a *Agent) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info("agent.metrics.start", "addr", a.cfg.MetricsAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func logNotifier(log *slog.Logger) keeper.Notifier {
	return keeper.NotifierFunc(func(ctx context.Context, n keeper.Notice) {
		level := slog.LevelInfo
		switch n.Level {
		case keeper.LevelWarning:
			level = slog.LevelWarn
		case keeper.LevelError:
			level = slog.LevelError
		}
		log.Log(ctx, level, "agent.notice", "message", n.Message)
	})
}

// Run is the entrypoint used by cmd/panel-agent.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
