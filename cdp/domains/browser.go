// Package domains wraps the cdproto command builders the guard uses.
package domains

import (
	"context"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// Browser is the part of the CDP Browser domain that manages windows.
type Browser interface {
	GetWindowForTarget(ctx context.Context, targetID target.ID) (cdpb.WindowID, *cdpb.Bounds, error)
	GetWindowBounds(ctx context.Context, windowID cdpb.WindowID) (*cdpb.Bounds, error)
	SetWindowBounds(ctx context.Context, windowID cdpb.WindowID, bounds *cdpb.Bounds) error
}

var _ Browser = &browser{}

type browser struct {
	exec cdp.Executor
}

// NewBrowser returns a new CDP Browser domain wrapper.
func NewBrowser(exec cdp.Executor) Browser {
	return &browser{exec}
}

func (b *browser) GetWindowForTarget(ctx context.Context, targetID target.ID) (cdpb.WindowID, *cdpb.Bounds, error) {
	action := cdpb.GetWindowForTarget()
	if targetID != "" {
		action = action.WithTargetID(targetID)
	}
	return action.Do(cdp.WithExecutor(ctx, b.exec))
}

func (b *browser) GetWindowBounds(ctx context.Context, windowID cdpb.WindowID) (*cdpb.Bounds, error) {
	action := cdpb.GetWindowBounds(windowID)
	return action.Do(cdp.WithExecutor(ctx, b.exec))
}

func (b *browser) SetWindowBounds(ctx context.Context, windowID cdpb.WindowID, bounds *cdpb.Bounds) error {
	action := cdpb.SetWindowBounds(windowID, bounds)
	return action.Do(cdp.WithExecutor(ctx, b.exec))
}
