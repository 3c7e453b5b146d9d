package controller

import (
	"context"
	"sort"
	"time"

	"github.com/footron/footron/internal/colors"
	"github.com/footron/footron/internal/environment"
	"github.com/footron/footron/internal/experience"
)

// ReloadFromFS rebuilds the catalog from disk. The running experience's
// handle survives the reload so its environment can still be stopped; every
// other handle is rebuilt fresh.
func (c *Controller) ReloadFromFS(ctx context.Context) error {
	experiences, err := experience.LoadAll(c.deps.Config.ExperiencesPath())
	if err != nil {
		return err
	}
	groupings, err := experience.LoadGroupings(c.deps.Config.DataPath)
	if err != nil {
		return err
	}

	ids := make(map[string]struct{}, len(experiences))
	for _, exp := range experiences {
		ids[exp.ID] = struct{}{}
	}
	groupings.Resolve(ids)
	for _, exp := range experiences {
		groupings.Apply(exp)
	}

	// Availability is probed outside the catalog lock; an experience whose
	// environment cannot run (missing image, absent capture source) never
	// enters the catalog.
	handles := make(map[string]*environment.Handle, len(experiences))
	available := experiences[:0]
	for _, exp := range experiences {
		handle := environment.NewHandle(exp, c.deps.Factory)
		if !handle.Available(ctx) {
			c.logger.Warn().
				Str("event", "controller.experience_unavailable").
				Str("experience", exp.ID).
				Msg("excluding unavailable experience from catalog")
			continue
		}
		handles[exp.ID] = handle
		available = append(available, exp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		id := c.current.handle.Descriptor.ID
		if _, ok := handles[id]; ok {
			handles[id] = c.current.handle
		}
	}
	c.handles = handles
	c.groupings = groupings
	c.lastUpdate = time.Now()

	if c.deps.Colors != nil {
		for _, exp := range available {
			c.deps.Colors.Request(ctx, exp)
		}
	}

	c.logger.Info().
		Str("event", "controller.reloaded").
		Int("experiences", len(available)).
		Msg("experience catalog reloaded")
	return nil
}

// Experiences returns the catalog sorted by id.
func (c *Controller) Experiences() []*experience.Experience {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*experience.Experience, 0, len(c.handles))
	for _, handle := range c.handles {
		out = append(out, handle.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Experience looks up one catalog entry.
func (c *Controller) Experience(id string) (*experience.Experience, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handle, ok := c.handles[id]
	if !ok {
		return nil, false
	}
	return handle.Descriptor, true
}

func (c *Controller) Collections() map[string]experience.Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupings.Collections
}

func (c *Controller) Tags() map[string]experience.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupings.Tags
}

func (c *Controller) Folders() map[string]experience.Folder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groupings.Folders
}

// CurrentInfo is a consistent snapshot of the display's state.
type CurrentInfo struct {
	Experience      *experience.Experience
	StartTime       time.Time
	EndTime         *time.Time
	LastInteraction *time.Time
	Lock            experience.LockStatus
	LastLockUpdate  *time.Time
	LastUpdate      time.Time
}

func (c *Controller) CurrentInfo() CurrentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info := CurrentInfo{
		Lock:           c.lock.Status,
		LastLockUpdate: c.lock.LastUpdate,
		LastUpdate:     c.lastUpdate,
	}
	if c.current != nil {
		info.Experience = c.current.handle.Descriptor
		info.StartTime = c.current.startTime
		info.EndTime = c.current.endTime
		info.LastInteraction = c.current.lastInteraction
	}
	return info
}

// Palette returns the cached color palette for an experience.
func (c *Controller) Palette(id string) (colors.Palette, bool) {
	if c.deps.Colors == nil {
		return colors.Palette{}, false
	}
	return c.deps.Colors.Palette(id)
}

// Screenshot captures the display through the configured capturer.
func (c *Controller) Screenshot(ctx context.Context, width, height int, format string, quality int) ([]byte, string, error) {
	return c.deps.Capturer.Capture(ctx, width, height, format, quality)
}
