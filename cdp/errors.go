package cdp

import (
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
)

var (
	// ErrTimeout is returned when no reply to a command arrived in time. The
	// transport stays open.
	ErrTimeout = errors.New("cdp command timed out")

	// ErrConnectionFault is returned when the websocket to a tab broke. The
	// transport is unusable afterwards.
	ErrConnectionFault = errors.New("cdp connection fault")
)

// CommandError is a failure the browser reported for a command.
type CommandError struct {
	Method string
	Err    *cdproto.Error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
