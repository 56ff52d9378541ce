package browserprocess

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// CommandRunner runs a command to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error)
}

var xrandrCurrent = regexp.MustCompile(`current (\d+) x (\d+)`)

// ScreenSize asks xrandr for the current size of the default screen.
func ScreenSize(ctx context.Context, runner CommandRunner) (width, height int, err error) {
	res, err := runner.Run(ctx, "xrandr", nil, 3*time.Second)
	if err != nil {
		return 0, 0, errors.Wrap(err, "querying screen size")
	}
	if res.ExitCode != 0 {
		return 0, 0, errors.Errorf("xrandr exited with status %d: %s", res.ExitCode, res.Stderr)
	}

	m := xrandrCurrent.FindStringSubmatch(res.Stdout)
	if m == nil {
		return 0, 0, errors.New("xrandr output has no current screen size")
	}
	// the pattern only matches digits, only overflow can fail here.
	if width, err = strconv.Atoi(m[1]); err != nil {
		return 0, 0, errors.Wrap(err, "parsing screen width")
	}
	if height, err = strconv.Atoi(m[2]); err != nil {
		return 0, 0, errors.Wrap(err, "parsing screen height")
	}

	return width, height, nil
}
