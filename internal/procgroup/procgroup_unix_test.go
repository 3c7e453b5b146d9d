//go:build unix && !windows

package procgroup

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopReapsWholeGroup(t *testing.T) {
	// The shell forks a grandchild; both must die with the group.
	cmd := exec.Command("sh", "-c", "sleep 100 & sleep 100")
	child, err := Start(cmd)
	require.NoError(t, err)
	require.True(t, child.Alive())

	pid := child.Pid()
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "child must lead its own process group")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, child.Stop(ctx))
	require.False(t, child.Alive())

	// Signal 0 probes for survivors; the grandchild may need a beat to reap.
	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 5*time.Second, 10*time.Millisecond, "process group must be empty")
}

func TestStopNilChild(t *testing.T) {
	var child *Child
	require.NoError(t, child.Stop(context.Background()))
	require.False(t, child.Alive())
}

func TestKillExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	child, err := Start(cmd)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !child.Alive() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, Kill(child.cmd, syscall.SIGTERM))
}

func TestStartBadBinary(t *testing.T) {
	_, err := Start(exec.Command("/nonexistent/binary"))
	require.Error(t, err)
}
