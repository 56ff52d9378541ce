package browserprocess

import (
	"os/exec"
	"syscall"
)

// setProcAttrs puts the browser in its own process group, so renderer and
// GPU children are signalled with it, and kills it if the guard dies.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
