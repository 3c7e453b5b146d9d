// Command timer runs the playlist scheduler against a controller daemon.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/scheduler"
)

func main() {
	log.Configure(log.Config{Service: "footron-timer"})
	logger := log.Base()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(scheduler.NewClient(cfg.ControllerURL))
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("scheduler exited with error")
	}
}
