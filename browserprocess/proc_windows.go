package browserprocess

import (
	"os"
	"os/exec"
)

func setProcAttrs(cmd *exec.Cmd) {}

// Windows has no graceful stop signal for a console-less child.
func signalStop(p *os.Process) error {
	return p.Kill()
}

func signalKill(p *os.Process) error {
	return p.Kill()
}
