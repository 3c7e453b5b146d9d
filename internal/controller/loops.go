package controller

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/environment"
)

const (
	exitWatchInterval = time.Second
	stabilityInterval = 15 * time.Second
	reloadDebounce    = 2 * time.Second
)

// Run drives the controller's background loops until the context ends.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runInitialEmpty(ctx) })
	g.Go(func() error { return c.runExitWatch(ctx) })
	g.Go(func() error { return c.runWatcher(ctx) })
	if c.deps.Colors != nil {
		g.Go(func() error { return c.runColors(ctx) })
	}
	if c.deps.Stability != nil {
		g.Go(func() error { return c.runStability(ctx) })
	}
	return g.Wait()
}

// runInitialEmpty clears the display shortly after boot unless an operator
// has already put something on it.
func (c *Controller) runInitialEmpty(ctx context.Context) error {
	select {
	case <-time.After(config.InitialEmptyExperienceDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.RLock()
	alreadySet := !c.lastStartedSetting.IsZero()
	c.mu.RUnlock()
	if alreadySet {
		return nil
	}
	err := c.SetCurrent(ctx, nil, SetOptions{Throttle: config.CurrentExperienceSetDelay})
	if err != nil && !errors.Is(err, ErrThrottled) && !errors.Is(err, ErrTransitionInProgress) {
		c.logger.Warn().Err(err).Str("event", "controller.init_failed").Msg("initial display clear failed")
	}
	return nil
}

// runExitWatch rotates away from an experience whose environment has died.
func (c *Controller) runExitWatch(ctx context.Context) error {
	ticker := time.NewTicker(exitWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.RLock()
		var handle *environment.Handle
		if c.current != nil {
			handle = c.current.handle
		}
		c.mu.RUnlock()
		if handle == nil {
			continue
		}
		if handle.State(ctx) != environment.StateFailed {
			continue
		}

		c.logger.Warn().
			Str("event", "controller.experience_died").
			Str("experience", handle.Descriptor.ID).
			Msg("current experience died, clearing display")
		// Throttled so a crash loop right after a set does not fight the
		// operator or the scheduler for the display.
		err := c.SetCurrent(ctx, nil, SetOptions{Throttle: config.CurrentExperienceSetDelay})
		if err != nil && !errors.Is(err, ErrThrottled) && !errors.Is(err, ErrTransitionInProgress) {
			c.logger.Warn().Err(err).Str("event", "controller.clear_failed").Msg("clearing dead experience failed")
		}
	}
}

// runColors persists finished palette extractions.
func (c *Controller) runColors(ctx context.Context) error {
	for {
		select {
		case res := <-c.deps.Colors.Results():
			if err := c.deps.Colors.Persist(res); err != nil {
				c.logger.Warn().
					Err(err).
					Str("event", "controller.colors_persist_failed").
					Str("experience", res.ExperienceID).
					Msg("palette persist failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runStability probes host health and reboots when the GPU driver has
// degraded past recovery. Rogue containers are swept first on the theory
// that a leaked workload is sometimes the cause.
func (c *Controller) runStability(ctx context.Context) error {
	ticker := time.NewTicker(stabilityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.deps.Stability.Check(ctx)
		c.sweepRogueContainers(ctx)
		if !c.deps.Stability.Unstable() {
			continue
		}

		c.logger.Error().Str("event", "controller.host_unstable").Msg("host judged unstable, rebooting")
		reboot := c.deps.Reboot
		if reboot == nil {
			reboot = defaultReboot
		}
		if err := reboot(ctx); err != nil {
			c.logger.Error().Err(err).Str("event", "controller.reboot_failed").Msg("reboot failed")
		}
		return nil
	}
}

// sweepRogueContainers kills footron containers that do not belong to the
// current experience. Crashed transitions leave them holding the GPU.
func (c *Controller) sweepRogueContainers(ctx context.Context) {
	if c.deps.Docker == nil {
		return
	}

	c.mu.RLock()
	var currentImage string
	if c.current != nil {
		currentImage = c.current.handle.Descriptor.ImageID
	}
	c.mu.RUnlock()

	containers, err := c.deps.Docker.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		c.logger.Warn().Err(err).Str("event", "controller.sweep_failed").Msg("container list failed")
		return
	}
	for _, running := range containers {
		name := containerName(running.Names)
		if !strings.HasPrefix(name, "footron-") {
			continue
		}
		if currentImage != "" && running.Image == currentImage {
			continue
		}
		if err := c.deps.Docker.ContainerKill(ctx, running.ID, "SIGKILL"); err != nil {
			c.logger.Warn().
				Err(err).
				Str("event", "controller.sweep_failed").
				Str("container", name).
				Msg("killing rogue container failed")
			continue
		}
		c.logger.Info().
			Str("event", "controller.rogue_container_killed").
			Str("container", name).
			Msg("killed rogue container")
	}
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func defaultReboot(ctx context.Context) error {
	return exec.CommandContext(ctx, "sudo", "reboot").Run()
}

// runWatcher reloads the catalog when the experiences directory changes.
// Deploys touch many files at once, so events are debounced.
func (c *Controller) runWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(c.deps.Config.ExperiencesPath()); err != nil {
		return err
	}

	var pending *time.Timer
	var pendingCh <-chan time.Time
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if pending == nil {
				pending = time.NewTimer(reloadDebounce)
				pendingCh = pending.C
			} else {
				pending.Reset(reloadDebounce)
			}
		case <-pendingCh:
			pending = nil
			pendingCh = nil
			if err := c.ReloadFromFS(ctx); err != nil {
				c.logger.Warn().Err(err).Str("event", "controller.reload_failed").Msg("catalog reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Str("event", "controller.watch_failed").Msg("experience watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
