//go:build !windows

package browserprocess

import (
	"os"
	"syscall"
)

// signalStop sends SIGTERM to the process group of p, falling back to p
// alone when the group cannot be signalled.
func signalStop(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}

// signalKill sends SIGKILL to the process group of p, falling back to p
// alone when the group cannot be signalled.
func signalKill(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}
