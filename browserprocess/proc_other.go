//go:build !windows && !linux

package browserprocess

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the browser in its own process group.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
