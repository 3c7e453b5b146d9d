// Package controller owns what is on the display: the experience catalog,
// the current experience, and the transitions between them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/colors"
	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/environment"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/loader"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/placard"
	"github.com/footron/footron/internal/stability"
	"github.com/footron/footron/internal/wm"
)

var (
	// ErrThrottled rejects a set that arrives inside another set's guard window.
	ErrThrottled = errors.New("current experience was set too recently")
	// ErrTransitionInProgress rejects a set while another transition holds the
	// display. Sets never queue.
	ErrTransitionInProgress = errors.New("another transition is in progress")
	// ErrUnknownExperience rejects a set naming an id not in the catalog.
	ErrUnknownExperience = errors.New("unknown experience")
)

// loaderVisibilityDelay guarantees the loading screen a moment on screen
// before the incoming experience starts drawing over it.
const loaderVisibilityDelay = time.Second

// Capturer produces display screenshots for the operator API.
type Capturer interface {
	Capture(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error)
}

// AccessCoder rotates the join code shown on the placard.
type AccessCoder interface {
	Advance(ctx context.Context) error
}

// Deps carries the display surfaces and services the controller drives.
type Deps struct {
	Config   config.Config
	Factory  environment.Factory
	WM       wm.API
	Placard  placard.API
	Loader   *loader.Loader
	Colors   *colors.Manager
	Capturer Capturer
	// Auth rotates the placard join code on experience changes when set.
	Auth AccessCoder

	// Docker enables the rogue-container sweep when set.
	Docker client.APIClient
	// Stability enables the host health loop when set.
	Stability *stability.Monitor
	// Reboot restarts the host when it is judged unstable.
	Reboot func(ctx context.Context) error
}

type current struct {
	handle          *environment.Handle
	startTime       time.Time
	endTime         *time.Time
	lastInteraction *time.Time
}

// Controller is safe for concurrent use. Reads take mu; transitions
// additionally take modifyMu without queuing.
type Controller struct {
	deps   Deps
	logger zerolog.Logger

	// modifyMu serializes transitions. TryLock only: a caller who loses the
	// race gets ErrTransitionInProgress instead of a queue slot.
	modifyMu sync.Mutex

	mu                 sync.RWMutex
	handles            map[string]*environment.Handle
	groupings          *experience.Groupings
	current            *current
	lock               experience.Lock
	lastUpdate         time.Time
	lastStartedSetting time.Time

	// detached tracks background stops so Close can wait for them.
	detached sync.WaitGroup
}

func New(deps Deps) *Controller {
	return &Controller{
		deps:      deps,
		logger:    log.WithComponent("controller"),
		handles:   map[string]*environment.Handle{},
		groupings: &experience.Groupings{},
	}
}

// SetOptions adjusts one SetCurrent call.
type SetOptions struct {
	// Throttle makes the set yield when another set landed within the window.
	// Zero means always proceed.
	Throttle time.Duration
}

// SetCurrent replaces the current experience. A nil id clears the display.
// The outgoing environment is stopped in the background so the incoming one
// is not delayed by a slow teardown.
func (c *Controller) SetCurrent(ctx context.Context, id *string, opts SetOptions) error {
	if c.throttled(opts.Throttle) {
		currentSetThrottled.Inc()
		return ErrThrottled
	}
	if !c.modifyMu.TryLock() {
		return ErrTransitionInProgress
	}
	defer c.modifyMu.Unlock()

	c.mu.RLock()
	outgoing := c.current
	var incoming *environment.Handle
	if id != nil {
		var ok bool
		incoming, ok = c.handles[*id]
		if !ok {
			c.mu.RUnlock()
			return fmt.Errorf("%w: %q", ErrUnknownExperience, *id)
		}
	}
	c.mu.RUnlock()

	if outgoing != nil && incoming != nil && outgoing.handle == incoming {
		return nil
	}

	if incoming != nil {
		c.prepareSurfaces(ctx, incoming.Descriptor)
	} else {
		c.clearSurfaces(ctx)
	}

	var prev *environment.Handle
	if outgoing != nil {
		prev = outgoing.handle
		c.stopDetached(prev, incoming)
	}

	if incoming == nil {
		c.commit(nil)
		return nil
	}

	if incoming.Descriptor.LoadTime > 0 {
		// The loader needs a beat on screen or fast starts flash it.
		select {
		case <-time.After(loaderVisibilityDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		c.deps.Loader.StopAfter(time.Duration(incoming.Descriptor.LoadTime) * time.Second)
	}

	if err := incoming.Start(ctx, prev); err != nil {
		experienceStartFailures.Inc()
		c.commit(nil)
		c.logger.Error().
			Err(err).
			Str("event", "controller.start_failed").
			Str("experience", incoming.Descriptor.ID).
			Msg("experience failed to start")
		return err
	}
	experienceStarts.WithLabelValues(string(incoming.Descriptor.Kind)).Inc()
	c.commit(incoming)
	if c.deps.Auth != nil {
		if err := c.deps.Auth.Advance(ctx); err != nil {
			c.logger.Warn().Err(err).Str("event", "controller.auth_failed").Msg("join code rotation failed")
		}
	}
	c.logger.Info().
		Str("event", "controller.current_set").
		Str("experience", incoming.Descriptor.ID).
		Msg("current experience set")
	return nil
}

func (c *Controller) throttled(throttle time.Duration) bool {
	if throttle <= 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.lastStartedSetting.IsZero() {
		return false
	}
	return time.Since(c.lastStartedSetting) < throttle
}

func (c *Controller) commit(handle *environment.Handle) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle == nil {
		c.current = nil
	} else {
		c.current = &current{handle: handle, startTime: now}
	}
	// A fresh experience starts with an intact seal.
	c.lock = experience.Lock{}
	c.lastUpdate = now
	c.lastStartedSetting = now
}

// prepareSurfaces points the window manager and placard at the incoming
// experience before it starts, and raises the loader for slow starters.
func (c *Controller) prepareSurfaces(ctx context.Context, exp *experience.Experience) {
	if err := c.deps.WM.SetLayout(ctx, exp.Layout); err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.wm_failed").Msg("window manager layout update failed")
	}
	if err := c.deps.Placard.SetExperience(ctx, placard.ExperienceData{
		Title:       exp.Title,
		Description: exp.Description,
		Artist:      exp.Artist,
	}); err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.placard_failed").Msg("placard update failed")
	}
	if err := c.deps.Placard.SetLayout(ctx, placard.FromDisplayLayout(exp.Layout)); err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.placard_failed").Msg("placard layout update failed")
	}
	if exp.LoadTime > 0 {
		if err := c.deps.Loader.Start(ctx); err != nil {
			c.logger.Warn().Err(err).Str("event", "controller.loader_failed").Msg("loader start failed")
		}
	}
}

func (c *Controller) clearSurfaces(ctx context.Context) {
	if err := c.deps.Placard.SetExperience(ctx, placard.ExperienceData{}); err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.placard_failed").Msg("placard clear failed")
	}
	if err := c.deps.WM.ClearViewport(ctx); err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.wm_failed").Msg("viewport clear failed")
	}
}

// stopDetached tears the outgoing environment down without blocking the
// incoming start. Stop errors are logged; the display has already moved on.
func (c *Controller) stopDetached(prev, next *environment.Handle) {
	c.detached.Add(1)
	go func() {
		defer c.detached.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := prev.Stop(ctx, next); err != nil {
			var transition *environment.TransitionError
			if errors.As(err, &transition) {
				return
			}
			c.logger.Warn().
				Err(err).
				Str("event", "controller.stop_failed").
				Str("experience", prev.Descriptor.ID).
				Msg("outgoing experience stop failed")
		}
	}()
}

// Close waits for detached stops to finish and tears down the display.
func (c *Controller) Close(ctx context.Context) error {
	err := c.SetCurrent(ctx, nil, SetOptions{})
	done := make(chan struct{})
	go func() {
		c.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// SetLock updates the display lock. It waits on the transition lock so a
// lock write cannot land mid-transition and be wiped by the commit reset.
// Setting an equal value is a no-op and does not disturb the last-update
// stamp the scheduler watches.
func (c *Controller) SetLock(status experience.LockStatus) {
	c.modifyMu.Lock()
	defer c.modifyMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lock.Set(status, time.Now())
}

// SetEndTime overrides when the scheduler rotates away from the current
// experience. Ignored when nothing is running.
func (c *Controller) SetEndTime(endTime *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.endTime = endTime
}

// NotifyInteraction records that someone is actively using the current
// experience, holding scheduler rotation.
func (c *Controller) NotifyInteraction() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.lastInteraction = &now
}

// CurrentExperienceID returns the running experience's id, nil when empty.
func (c *Controller) CurrentExperienceID() *string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	id := c.current.handle.Descriptor.ID
	return &id
}
