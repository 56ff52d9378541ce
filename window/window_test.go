package window

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browserguard/cdp"
	"github.com/grafana/browserguard/cdp/cdptest"
	"github.com/grafana/browserguard/log"
	"github.com/grafana/browserguard/targets"
)

func newController(t *testing.T) (*cdptest.Server, *Controller) {
	t.Helper()

	srv := cdptest.NewServer(t)
	reg := cdp.NewRegistry(log.NewNullLogger())
	t.Cleanup(reg.CloseAll)

	return srv, NewController(reg, time.Second, log.NewNullLogger())
}

func asTab(t cdptest.Tab) targets.Tab {
	return targets.Tab{
		ID:                   t.ID,
		Type:                 t.Type,
		URL:                  t.URL,
		WebSocketDebuggerURL: t.WebSocketDebuggerURL,
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		state        cdpb.WindowState
		wantDecision Decision
		wantNext     cdpb.WindowState
	}{
		{cdpb.WindowStateMinimized, Restored, cdpb.WindowStateNormal},
		{cdpb.WindowStateNormal, Maximized, cdpb.WindowStateMaximized},
		{"", Maximized, cdpb.WindowStateMaximized},
		{cdpb.WindowStateFullscreen, Maximized, cdpb.WindowStateMaximized},
		{cdpb.WindowStateMaximized, Kept, ""},
	}
	for _, tc := range testCases {
		d, next := Decide(tc.state)
		assert.Equal(t, tc.wantDecision, d, "state %q", tc.state)
		assert.Equal(t, tc.wantNext, next, "state %q", tc.state)
	}
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		state        cdpb.WindowState
		wantDecision Decision
		wantState    cdpb.WindowState
		wantMethods  []string
	}{
		{
			name:         "minimized",
			state:        cdpb.WindowStateMinimized,
			wantDecision: Restored,
			wantState:    cdpb.WindowStateNormal,
			wantMethods: []string{
				cdpb.CommandGetWindowForTarget,
				cdpb.CommandGetWindowBounds,
				cdpb.CommandSetWindowBounds,
			},
		},
		{
			name:         "normal",
			state:        cdpb.WindowStateNormal,
			wantDecision: Maximized,
			wantState:    cdpb.WindowStateMaximized,
			wantMethods: []string{
				cdpb.CommandGetWindowForTarget,
				cdpb.CommandGetWindowBounds,
				cdpb.CommandSetWindowBounds,
			},
		},
		{
			name:         "unknown",
			state:        "",
			wantDecision: Maximized,
			wantState:    cdpb.WindowStateMaximized,
			wantMethods: []string{
				cdpb.CommandGetWindowForTarget,
				cdpb.CommandGetWindowBounds,
				cdpb.CommandSetWindowBounds,
			},
		},
		{
			name:         "maximized",
			state:        cdpb.WindowStateMaximized,
			wantDecision: Kept,
			wantState:    cdpb.WindowStateMaximized,
			wantMethods: []string{
				cdpb.CommandGetWindowForTarget,
				cdpb.CommandGetWindowBounds,
			},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, c := newController(t)
			tab := srv.AddTab("page", "about:blank", tc.state)

			d, err := c.Ensure(context.Background(), asTab(tab))
			require.NoError(t, err)
			assert.Equal(t, tc.wantDecision, d)
			assert.Equal(t, tc.wantState, srv.WindowState(tab.ID))
			assert.Equal(t, tc.wantMethods, srv.Methods())
		})
	}
}

func TestEnsureMinimizedTakesTwoCalls(t *testing.T) {
	t.Parallel()

	srv, c := newController(t)
	tab := asTab(srv.AddTab("page", "about:blank", cdpb.WindowStateMinimized))

	d, err := c.Ensure(context.Background(), tab)
	require.NoError(t, err)
	assert.Equal(t, Restored, d)

	d, err = c.Ensure(context.Background(), tab)
	require.NoError(t, err)
	assert.Equal(t, Maximized, d)

	// maximized windows are left alone from now on.
	for i := 0; i < 3; i++ {
		d, err = c.Ensure(context.Background(), tab)
		require.NoError(t, err)
		assert.Equal(t, Kept, d)
	}

	var sets int
	for _, m := range srv.Methods() {
		if m == cdpb.CommandSetWindowBounds {
			sets++
		}
	}
	assert.Equal(t, 2, sets)
}

func TestEnsureNoWindow(t *testing.T) {
	t.Parallel()

	srv, c := newController(t)
	srv.NoWindow(true)
	tab := srv.AddTab("page", "about:blank", cdpb.WindowStateMinimized)

	d, err := c.Ensure(context.Background(), asTab(tab))
	require.NoError(t, err)
	assert.Equal(t, NoWindow, d)
	assert.Equal(t, []string{cdpb.CommandGetWindowForTarget}, srv.Methods())
}

func TestEnsureFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		method      string
		wantMethods []string
	}{
		{
			name:        "window_for_target",
			method:      cdpb.CommandGetWindowForTarget,
			wantMethods: []string{cdpb.CommandGetWindowForTarget},
		},
		{
			name:        "bounds",
			method:      cdpb.CommandGetWindowBounds,
			wantMethods: []string{cdpb.CommandGetWindowForTarget, cdpb.CommandGetWindowBounds},
		},
		{
			name:   "set_bounds",
			method: cdpb.CommandSetWindowBounds,
			wantMethods: []string{
				cdpb.CommandGetWindowForTarget,
				cdpb.CommandGetWindowBounds,
				cdpb.CommandSetWindowBounds,
			},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, c := newController(t)
			srv.FailMethod(tc.method, "Internal error")
			tab := srv.AddTab("page", "about:blank", cdpb.WindowStateNormal)

			d, err := c.Ensure(context.Background(), asTab(tab))
			require.Error(t, err)

			var cerr *cdp.CommandError
			assert.ErrorAs(t, err, &cerr)
			assert.Equal(t, Failed, d)
			assert.Equal(t, tc.wantMethods, srv.Methods())
		})
	}
}

func TestEnsureConnectionFault(t *testing.T) {
	t.Parallel()

	srv, c := newController(t)
	srv.DropOn(cdpb.CommandGetWindowBounds)
	tab := srv.AddTab("page", "about:blank", cdpb.WindowStateNormal)

	d, err := c.Ensure(context.Background(), asTab(tab))
	assert.ErrorIs(t, err, cdp.ErrConnectionFault)
	assert.Equal(t, Failed, d)
	assert.Equal(t, cdpb.WindowStateNormal, srv.WindowState(tab.ID))
}

func TestResize(t *testing.T) {
	t.Parallel()

	srv, c := newController(t)
	tab := srv.AddTab("page", "about:blank", cdpb.WindowStateMaximized)

	require.NoError(t, c.Resize(context.Background(), asTab(tab), 1280, 720))
	assert.Equal(t, cdpb.WindowStateNormal, srv.WindowState(tab.ID))

	calls := srv.Calls()
	require.Len(t, calls, 2)
	var p struct {
		Bounds cdpb.Bounds `json:"bounds"`
	}
	require.NoError(t, json.Unmarshal(calls[1].Params, &p))
	assert.Equal(t, int64(1280), p.Bounds.Width)
	assert.Equal(t, int64(720), p.Bounds.Height)
}

func TestResizeNoWindow(t *testing.T) {
	t.Parallel()

	srv, c := newController(t)
	srv.NoWindow(true)
	tab := srv.AddTab("page", "about:blank", cdpb.WindowStateNormal)

	assert.ErrorContains(t, c.Resize(context.Background(), asTab(tab), 800, 600), "has no window")
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "restored", Restored.String())
	assert.Equal(t, "maximized", Maximized.String())
	assert.Equal(t, "kept", Kept.String())
	assert.Equal(t, "no_window", NoWindow.String())
	assert.Equal(t, "failed", Failed.String())
}
