// Package loader runs the loading-screen overlay shown while slow
// experiences come up.
package loader

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/procgroup"
	"github.com/footron/footron/internal/wm"
)

// Loader owns the overlay process. Start and Stop serialize behind a mutex so
// a delayed stop cannot race a fresh start.
type Loader struct {
	binPath string
	wm      wm.API
	logger  zerolog.Logger

	mu    sync.Mutex
	child *procgroup.Child
	timer *time.Timer
}

func New(binPath string, wmAPI wm.API) *Loader {
	return &Loader{
		binPath: binPath,
		wm:      wmAPI,
		logger:  log.WithComponent("loader"),
	}
}

// Start brings up the overlay. Already running is a no-op.
func (l *Loader) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked(ctx)
}

// Stop clears the overlay from the viewport and kills its process.
func (l *Loader) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked(ctx)
}

// StopAfter schedules a stop once the incoming experience has had its
// guaranteed time on screen. A new Start cancels the pending stop.
func (l *Loader) StopAfter(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, func() {
		if err := l.Stop(context.Background()); err != nil {
			l.logger.Warn().Err(err).Str("event", "loader.stop_failed").Msg("delayed loader stop failed")
		}
	})
}

func (l *Loader) startLocked(ctx context.Context) error {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.child != nil && l.child.Alive() {
		return nil
	}

	cmd := exec.Command(filepath.Join(l.binPath, "footron-loader"))
	child, err := procgroup.Start(cmd)
	if err != nil {
		return err
	}
	l.child = child
	l.logger.Debug().Str("event", "loader.started").Int("pid", child.Pid()).Msg("loader overlay started")
	return nil
}

func (l *Loader) stopLocked(ctx context.Context) error {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.child == nil {
		return nil
	}

	// Clear first so the overlay disappears even if the kill drags on.
	if err := l.wm.ClearViewport(ctx, "loader"); err != nil {
		l.logger.Warn().Err(err).Str("event", "loader.clear_failed").Msg("clearing loader viewport failed")
	}
	err := l.child.Stop(ctx)
	l.child = nil
	return err
}
