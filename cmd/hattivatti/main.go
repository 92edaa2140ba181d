// Package main is the hattivatti entry point: one sweep of the INTERVENE job queue, then exit.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"hattivatti/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// flag and config errors happen before log_level is known
		if !errors.Is(err, errLogged) {
			config.NewLogger(config.EnvLogLevel()).Error().Err(err).Msg("hattivatti failed")
		}
		stop()
		os.Exit(1)
	}
}
