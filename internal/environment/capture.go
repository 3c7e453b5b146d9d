package environment

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/capture"
	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/procgroup"
)

// captureEnvironment wraps a legacy native application: the capture service
// scrapes its window while a local capture shell process hosts it.
type captureEnvironment struct {
	exp     *experience.Experience
	capture capture.API
	binPath string
	logger  zerolog.Logger

	life *lifecycle

	mu        sync.Mutex
	child     *procgroup.Child
	startedAt time.Time
}

func newCaptureEnvironment(exp *experience.Experience, captureAPI capture.API, binPath string) *captureEnvironment {
	return &captureEnvironment{
		exp:     exp,
		capture: captureAPI,
		binPath: binPath,
		logger:  log.WithExperience("environment.capture", exp.ID),
		life:    newLifecycle(),
	}
}

func (c *captureEnvironment) Start(ctx context.Context, prev Environment) error {
	if err := c.life.beginStart(); err != nil {
		return err
	}
	if err := c.start(ctx); err != nil {
		c.life.fail()
		return err
	}
	c.life.finishStart()
	return nil
}

func (c *captureEnvironment) start(ctx context.Context) error {
	id := c.exp.ID
	if err := c.capture.SetCurrent(ctx, &id, c.exp.CapturePath); err != nil {
		return err
	}
	cmd := exec.Command(filepath.Join(c.binPath, "footron-capture-shell"), c.exp.CapturePath)
	cmd.Dir = c.exp.Path
	child, err := procgroup.Start(cmd)
	if err != nil {
		// The capture service must not keep pointing at an app that never came up.
		_ = c.capture.SetCurrent(ctx, nil, "")
		return err
	}

	c.mu.Lock()
	c.child = child
	c.startedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Stop kills the hosted application and clears the capture service, unless
// the successor is also a capture experience and will repoint it immediately.
func (c *captureEnvironment) Stop(ctx context.Context, next Environment) error {
	if err := c.life.beginStop(); err != nil {
		return err
	}

	c.mu.Lock()
	child := c.child
	c.child = nil
	c.mu.Unlock()

	var stopErr error
	if child != nil {
		stopErr = child.Stop(ctx)
	}
	if _, nextIsCapture := next.(*captureEnvironment); !nextIsCapture {
		if err := c.capture.SetCurrent(ctx, nil, ""); err != nil && stopErr == nil {
			stopErr = err
		}
	}
	if stopErr != nil {
		c.life.fail()
		return stopErr
	}
	c.life.finishStop()
	return nil
}

// State polls the capture service: a running capture with no scraped windows
// past its grace period has failed to come up.
func (c *captureEnvironment) State(ctx context.Context) State {
	state := c.life.state()
	if state != StateRunning {
		return state
	}

	c.mu.Lock()
	child := c.child
	startedAt := c.startedAt
	c.mu.Unlock()

	if child != nil && !child.Alive() {
		c.life.fail()
		return StateFailed
	}

	grace := config.CaptureFailedTimeout
	if loadTime := time.Duration(c.exp.LoadTime) * time.Second; loadTime > grace {
		grace = loadTime
	}
	if time.Since(startedAt) < grace {
		return StateRunning
	}

	status, err := c.capture.Current(ctx)
	if err != nil {
		// Capture service hiccups are not app death.
		return StateRunning
	}
	if status.ID == nil || *status.ID != c.exp.ID || status.Processes == 0 {
		c.life.fail()
		return StateFailed
	}
	return StateRunning
}

// Available requires the capture service to be reachable.
func (c *captureEnvironment) Available(ctx context.Context) bool {
	_, err := c.capture.Current(ctx)
	return err == nil
}
