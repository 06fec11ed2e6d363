//go:build !unix

package agent

import (
	"context"
	"log/slog"
)

func watchTriggerSignals(ctx context.Context, _ Triggerer, _ *slog.Logger) {
	<-ctx.Done()
}
