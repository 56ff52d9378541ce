package browserprocess

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// Result is the outcome of a command run to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run runs the command name with args, waits at most timeout for it and
// returns its exit status and captured output. A non-zero exit status is
// reported in the Result, not as an error; errors are reserved for commands
// that could not be started or did not finish in time.
func (r *Runner) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, errors.Wrapf(ctx.Err(), "running %s: no result after %s", name, timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Debugf("command", "%s exited with status %d", name, res.ExitCode)
		return res, nil
	}
	if err != nil {
		return res, errors.Wrapf(err, "running %s", name)
	}

	return res, nil
}
