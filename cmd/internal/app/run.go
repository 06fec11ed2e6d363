package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"panel/cmd/internal/logging"
)

// Run is the entrypoint used by cmd/panel. It returns an error instead of
// calling os.Exit so deferred cleanup runs.
func Run() error {
	cfg := LoadConfig()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
