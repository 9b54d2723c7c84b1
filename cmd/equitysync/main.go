package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // exchange time zones on hosts without zoneinfo

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("equitysync failed")
		stop()
		os.Exit(1)
	}
}
