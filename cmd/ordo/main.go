package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ordomods/ordo/cmd/ordo/commands"
	"github.com/ordomods/ordo/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Only the bootstrap logger is levelled here; component loggers follow the
	// configuration file.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(telemetry.ParseLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info().Msg("Interrupted")
		os.Exit(130)
	default:
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
