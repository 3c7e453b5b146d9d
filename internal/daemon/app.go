// Package daemon assembles and runs the controller process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/footron/footron/internal/api"
	"github.com/footron/footron/internal/auth"
	"github.com/footron/footron/internal/capture"
	"github.com/footron/footron/internal/colors"
	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/controller"
	"github.com/footron/footron/internal/environment"
	"github.com/footron/footron/internal/loader"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/messaging"
	"github.com/footron/footron/internal/netutil"
	"github.com/footron/footron/internal/placard"
	"github.com/footron/footron/internal/releases"
	"github.com/footron/footron/internal/screenshot"
	"github.com/footron/footron/internal/stability"
	"github.com/footron/footron/internal/wm"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	controller *controller.Controller
	messaging  *messaging.Router
	server     *api.Server
	colors     *colors.Manager
	wmClient   *wm.Client
}

func New(cfg config.Config) (*App, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	logger := log.WithComponent("daemon")

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	var wmAPI wm.API
	var wmClient *wm.Client
	if cfg.DisableWM {
		wmAPI = wm.Disabled{}
	} else {
		wmClient = wm.New(cfg.WMAddr)
		wmAPI = wmClient
	}

	var placardAPI placard.API
	if cfg.DisablePlacard {
		placardAPI = placard.Disabled{}
	} else {
		placardAPI = placard.New(cfg.PlacardSocketPath())
	}

	colorsMgr, err := colors.Open(cfg.ColorsPath())
	if err != nil {
		return nil, err
	}

	factory := environment.NewFactory(environment.Deps{
		Docker:            docker,
		Capture:           capture.New(cfg.CaptureAPIURL),
		Ports:             netutil.NewPortManager(),
		Display:           cfg.Display,
		MessagingURL:      cfg.MessagingBaseURL,
		DataPath:          cfg.ExperienceDataPath(),
		BinPath:           cfg.BinPath(),
		ChromeProfilePath: cfg.ChromeProfilePath(),
	})

	authMgr, err := auth.New(placardAPI, cfg.WebClientURL)
	if err != nil {
		return nil, err
	}

	deps := controller.Deps{
		Config:   cfg,
		Factory:  factory,
		WM:       wmAPI,
		Placard:  placardAPI,
		Loader:   loader.New(cfg.BinPath(), wmAPI),
		Colors:   colorsMgr,
		Capturer: screenshot.NewFFmpeg(cfg.Display),
		Auth:     authMgr,
		Docker:   docker,
	}
	if cfg.CheckStability {
		deps.Stability = stability.NewMonitor(nil)
	}
	ctrl := controller.New(deps)

	msgRouter := messaging.NewRouter(ctrl)
	releaseStore := releases.NewStore(cfg.ReleasesPath(), cfg.ExperiencesPath())
	server := api.NewServer(cfg.ListenAddr, ctrl, placardAPI, msgRouter, releaseStore)

	return &App{
		cfg:        cfg,
		logger:     logger,
		controller: ctrl,
		messaging:  msgRouter,
		server:     server,
		colors:     colorsMgr,
		wmClient:   wmClient,
	}, nil
}

// Run loads the catalog and drives every component until the context ends,
// then tears the display down.
func (a *App) Run(ctx context.Context) error {
	if err := a.controller.ReloadFromFS(ctx); err != nil {
		return fmt.Errorf("initial catalog load: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(runCtx) })
	g.Go(func() error { return a.controller.Run(runCtx) })
	g.Go(func() error { return a.messaging.Run(runCtx) })
	a.logger.Info().
		Str("event", "daemon.started").
		Str("addr", a.cfg.ListenAddr).
		Msg("daemon running")

	err := g.Wait()
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if closeErr := a.controller.Close(shutdownCtx); closeErr != nil {
		a.logger.Warn().Err(closeErr).Str("event", "daemon.close_failed").Msg("display teardown incomplete")
	}
	if closeErr := a.colors.Close(); closeErr != nil {
		a.logger.Warn().Err(closeErr).Str("event", "daemon.close_failed").Msg("colors cache close failed")
	}
	if a.wmClient != nil {
		_ = a.wmClient.Close()
	}
	a.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return err
}
