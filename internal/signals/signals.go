// Package signals turns process shutdown signals into context cancellation.
package signals

import (
	"context"
	"os/signal"

	"github.com/rs/zerolog/log"
)

// NotifyContext returns a context cancelled on the first shutdown signal. A
// second signal is left to the runtime's default handling, which kills the
// process.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, shutdownSignals...)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			log.Info().Msg("shutdown signal received")
		}
		stop()
	}()
	return ctx, stop
}
