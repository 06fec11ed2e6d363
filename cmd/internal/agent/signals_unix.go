//go:build unix

package agent

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"panel/cmd/internal/auth/keeper"
)

// watchTriggerSignals maps SIGUSR1 to a focus event and SIGCONT (resume
// after suspend) to a visibility event until ctx is done.
func watchTriggerSignals(ctx context.Context, t Triggerer, log *slog.Logger) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGCONT)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			ev := keeper.EventVisible
			if sig == syscall.SIGUSR1 {
				ev = keeper.EventFocus
			}
			log.Debug("agent.signal", "signal", sig.String())
			t.Trigger(ev)
		}
	}
}
