// Command daemon runs the footron display controller.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/daemon"
	"github.com/footron/footron/internal/log"
)

func main() {
	log.Configure(log.Config{Service: "footron-daemon"})
	logger := log.Base()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration load failed")
	}

	app, err := daemon.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("daemon setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
}
