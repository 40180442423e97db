package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/iloctl/cmd/iloctl/commands"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps classified failures onto distinct exit codes so
// automation can branch on them without parsing messages.
func exitCode(err error) int {
	var rerr *reconcile.Error
	if !errors.As(err, &rerr) {
		return 1
	}
	switch rerr.Class {
	case reconcile.ClassChannel:
		return 2
	case reconcile.ClassDeviceBusy:
		return 3
	case reconcile.ClassUnsupported:
		return 4
	case reconcile.ClassInvalidRequest:
		return 5
	case reconcile.ClassMalformedResponse:
		return 6
	case reconcile.ClassPreconditionFailed:
		return 7
	default:
		return 1
	}
}

// setupLogging configures zerolog for structured logging
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch os.Getenv("ILOCTL_LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
