package environment

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/footron/footron/internal/environment/browser"
	"github.com/footron/footron/internal/experience"
)

// browserEnvironment runs web and video experiences through a kiosk browser
// pointed at a locally served page.
type browserEnvironment struct {
	runner *browser.Runner
	life   *lifecycle
}

func newWebEnvironment(exp *experience.Experience, cfg browserDeps) *browserEnvironment {
	return &browserEnvironment{
		runner: browser.NewRunner(browser.Config{
			ExperienceID:     exp.ID,
			Handler:          browser.StaticHandler(exp.Path),
			Path:             exp.URL,
			MessagingBaseURL: cfg.MessagingBaseURL,
			ProfileBase:      cfg.ProfileBase,
			ProfileDir:       cfg.ProfileDir,
			Display:          cfg.Display,
			Ports:            cfg.Ports,
		}),
		life: newLifecycle(),
	}
}

func newVideoEnvironment(exp *experience.Experience, cfg browserDeps) *browserEnvironment {
	query := url.Values{}
	query.Set("src", "/media/"+exp.Filename)
	query.Set("scrubbing", strconv.FormatBool(exp.Scrubbing))

	mux := http.NewServeMux()
	mux.Handle("/", playerHandler())
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(exp.Path))))

	return &browserEnvironment{
		runner: browser.NewRunner(browser.Config{
			ExperienceID:     exp.ID,
			Handler:          mux,
			Path:             "/",
			Query:            query,
			MessagingBaseURL: cfg.MessagingBaseURL,
			ProfileBase:      cfg.ProfileBase,
			ProfileDir:       cfg.ProfileDir,
			Display:          cfg.Display,
			Ports:            cfg.Ports,
		}),
		life: newLifecycle(),
	}
}

func (b *browserEnvironment) Start(ctx context.Context, prev Environment) error {
	if err := b.life.beginStart(); err != nil {
		return err
	}
	if err := b.runner.Start(ctx); err != nil {
		b.life.fail()
		return err
	}
	b.life.finishStart()
	return nil
}

func (b *browserEnvironment) Stop(ctx context.Context, next Environment) error {
	if err := b.life.beginStop(); err != nil {
		return err
	}
	if err := b.runner.Stop(ctx); err != nil {
		b.life.fail()
		return err
	}
	b.life.finishStop()
	return nil
}

// State treats browser death as environment failure; the controller's exit
// watch rotates away from it.
func (b *browserEnvironment) State(ctx context.Context) State {
	state := b.life.state()
	if state == StateRunning && !b.runner.Alive() {
		b.life.fail()
		return StateFailed
	}
	return state
}

// Available is unconditional: the browser binary is part of the host image.
func (b *browserEnvironment) Available(ctx context.Context) bool { return true }
