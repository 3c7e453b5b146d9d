//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

const (
	termSignal = syscall.Signal(0x0f)
	killSignal = syscall.Signal(0x09)
)

// Set is a no-op on windows; process groups are not used.
func Set(cmd *exec.Cmd) {}

// Kill terminates only the root process on windows.
func Kill(cmd *exec.Cmd, _ syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
