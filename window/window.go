// Package window keeps the browser window of a tab visible and maximized.
package window

import (
	"context"
	"fmt"
	"time"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"

	"github.com/grafana/browserguard/cdp"
	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/targets"
)

// Decision is what Ensure did to a window.
type Decision int

// Decisions taken by Ensure.
const (
	// Failed means a command failed and the window was left as it was.
	Failed Decision = iota
	// NoWindow means the browser reported no window for the tab.
	NoWindow
	// Kept means the window was already maximized.
	Kept
	// Restored means a minimized window was restored to normal.
	Restored
	// Maximized means a window that was not maximized was maximized.
	Maximized
)

func (d Decision) String() string {
	switch d {
	case NoWindow:
		return "no_window"
	case Kept:
		return "kept"
	case Restored:
		return "restored"
	case Maximized:
		return "maximized"
	default:
		return "failed"
	}
}

// Decide maps the current window state to the decision Ensure takes and
// the state it sets. A minimized window is restored first; it is maximized
// on a later call.
func Decide(state cdpb.WindowState) (Decision, cdpb.WindowState) {
	switch state {
	case cdpb.WindowStateMinimized:
		return Restored, cdpb.WindowStateNormal
	case cdpb.WindowStateMaximized:
		return Kept, ""
	default:
		return Maximized, cdpb.WindowStateMaximized
	}
}

// Controller drives the window of a tab over CDP. It keeps no state
// between calls.
type Controller struct {
	registry *cdp.Registry
	timeout  time.Duration
	logger   *log.Logger
}

// NewController returns a Controller whose commands run over connections
// from registry, each bounded by timeout.
func NewController(registry *cdp.Registry, timeout time.Duration, logger *log.Logger) *Controller {
	return &Controller{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

func (c *Controller) client(tab targets.Tab) *cdp.Client {
	return cdp.NewClient(c.registry, tab.WebSocketDebuggerURL, c.timeout, c.logger)
}

// Ensure reads the window state of tab and restores or maximizes its window
// as needed. A failed command abandons the call; it is not retried.
func (c *Controller) Ensure(ctx context.Context, tab targets.Tab) (Decision, error) {
	b := c.client(tab).Browser

	windowID, _, err := b.GetWindowForTarget(ctx, target.ID(tab.ID))
	if err != nil {
		return Failed, fmt.Errorf("getting window of tab %s: %w", tab.ID, err)
	}
	if windowID == 0 {
		c.logger.Warnf("window", "tab %s has no window", tab.ID)
		return NoWindow, nil
	}

	bounds, err := b.GetWindowBounds(ctx, windowID)
	if err != nil {
		return Failed, fmt.Errorf("getting bounds of window %d: %w", windowID, err)
	}
	var state cdpb.WindowState
	if bounds != nil {
		state = bounds.WindowState
	}

	decision, next := Decide(state)
	if decision == Kept {
		c.logger.Tracef("window", "window %d of tab %s is maximized", windowID, tab.ID)
		return Kept, nil
	}

	if err := b.SetWindowBounds(ctx, windowID, &cdpb.Bounds{WindowState: next}); err != nil {
		return Failed, fmt.Errorf("setting window %d to %s: %w", windowID, next, err)
	}
	c.logger.Infof("window", "window %d of tab %s: %q -> %q", windowID, tab.ID, state, next)

	return decision, nil
}

// Resize sets the window of tab to width x height in the normal state.
func (c *Controller) Resize(ctx context.Context, tab targets.Tab, width, height int) error {
	b := c.client(tab).Browser

	windowID, _, err := b.GetWindowForTarget(ctx, target.ID(tab.ID))
	if err != nil {
		return fmt.Errorf("getting window of tab %s: %w", tab.ID, err)
	}
	if windowID == 0 {
		return fmt.Errorf("tab %s has no window", tab.ID)
	}

	bounds := &cdpb.Bounds{
		Width:       int64(width),
		Height:      int64(height),
		WindowState: cdpb.WindowStateNormal,
	}
	if err := b.SetWindowBounds(ctx, windowID, bounds); err != nil {
		return fmt.Errorf("resizing window %d to %dx%d: %w", windowID, width, height, err)
	}
	c.logger.Infof("window", "window %d of tab %s resized to %dx%d", windowID, tab.ID, width, height)

	return nil
}
