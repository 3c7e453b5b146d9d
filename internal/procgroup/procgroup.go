// Package procgroup supervises spawned child processes. Every experience
// helper (kiosk browser, loader overlay, capture shell) runs in its own
// process group so that teardown reaps the whole tree.
package procgroup

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/footron/footron/internal/log"
)

var ErrKillFailed = errors.New("kill operation failed")

// killRetryInterval is how long we wait between terminate attempts while a
// child refuses to die.
const killRetryInterval = time.Second

// Child is a started command plus its exit observer.
type Child struct {
	cmd    *exec.Cmd
	waitCh chan error
	exited atomic.Bool
}

// Start launches the command in its own process group and begins observing it.
func Start(cmd *exec.Cmd) (*Child, error) {
	Set(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &Child{cmd: cmd, waitCh: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		c.exited.Store(true)
		c.waitCh <- err
	}()
	return c, nil
}

// Alive reports whether the child has not yet exited.
func (c *Child) Alive() bool {
	return c != nil && !c.exited.Load()
}

// Pid returns the child's process id, or 0 when unknown.
func (c *Child) Pid() int {
	if c == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stop terminates the child's process group, retrying every second until the
// process is confirmed gone. Escalates to SIGKILL after the first retry.
func (c *Child) Stop(ctx context.Context) error {
	if c == nil || c.cmd.Process == nil {
		return nil
	}
	logger := log.WithComponent("procgroup")
	attempt := 0
	for {
		sig := termSignal
		if attempt > 0 {
			sig = killSignal
		}
		if err := Kill(c.cmd, sig); err != nil {
			return err
		}
		select {
		case <-c.waitCh:
			return nil
		case <-time.After(killRetryInterval):
			attempt++
			logger.Warn().
				Int("pid", c.Pid()).
				Int("attempt", attempt).
				Msg("managed process did not die, trying again in 1s")
		case <-ctx.Done():
			_ = Kill(c.cmd, killSignal)
			return ctx.Err()
		}
	}
}
