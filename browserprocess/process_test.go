package browserprocess

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browserguard/log"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestLaunchTerminate(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	r := NewRunner(log.NewNullLogger(), WithTerminateGrace(time.Second))
	ctx := WithRunID(context.Background(), "launch-terminate")

	p, err := r.Launch(ctx, "sleep", []string{"30"})
	require.NoError(t, err)
	require.NotZero(t, p.Pid())
	assert.True(t, p.Alive())
	assert.Equal(t, 1, registered(ctx))

	r.Terminate(p)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.False(t, p.Alive())
	assert.Eventually(t, func() bool { return registered(ctx) == 0 }, time.Second, 10*time.Millisecond)

	// terminating twice is harmless.
	r.Terminate(p)
}

func TestTerminateKillsStubbornProcess(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	const grace = 200 * time.Millisecond
	r := NewRunner(log.NewNullLogger(), WithTerminateGrace(grace))

	p, err := r.Launch(context.Background(), "sh", []string{"-c", `trap "" TERM; while :; do sleep 0.1; done`})
	require.NoError(t, err)
	// give the shell time to install its trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	r.Terminate(p)

	assert.False(t, p.Alive())
	assert.GreaterOrEqual(t, time.Since(start), grace)
}

func TestTerminateNoop(t *testing.T) {
	t.Parallel()

	r := NewRunner(log.NewNullLogger())
	assert.NotPanics(t, func() {
		r.Terminate(nil)
		r.Terminate(new(Process))
	})
	assert.False(t, new(Process).Alive())
	assert.Zero(t, new(Process).Pid())
}

func TestLaunchMissingExecutable(t *testing.T) {
	t.Parallel()

	r := NewRunner(log.NewNullLogger())
	p, err := r.Launch(context.Background(), filepath.Join(t.TempDir(), "no-such-browser"), nil)
	require.Error(t, err)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrLaunch)

	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Contains(t, lerr.Path, "no-such-browser")
}

func TestLaunchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(log.NewNullLogger()).Launch(ctx, "sleep", []string{"1"})
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLaunchOutputLog(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	out := filepath.Join(t.TempDir(), "logs", "browser.log")
	r := NewRunner(log.NewNullLogger(), WithOutputLog(out))

	p, err := r.Launch(context.Background(), "sh", []string{"-c", "echo hello from the browser"})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.NoError(t, p.Err())

	b, err := os.ReadFile(out) //nolint:gosec
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello from the browser")
}

func TestIsResponding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(httpbin.New().Handler())
	t.Cleanup(srv.Close)

	testCases := []struct {
		name    string
		path    string
		timeout time.Duration
		want    bool
	}{
		{name: "ok", path: "/status/200", timeout: time.Second, want: true},
		{name: "server_error", path: "/status/503", timeout: time.Second},
		{name: "not_found", path: "/status/404", timeout: time.Second},
		{name: "too_slow", path: "/delay/2", timeout: 100 * time.Millisecond},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := NewRunner(log.NewNullLogger(), WithProbePath(tc.path))
			assert.Equal(t, tc.want, r.IsResponding(context.Background(), srv.URL+"/", tc.timeout))
		})
	}
}

func TestIsRespondingUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(httpbin.New().Handler())
	u := srv.URL
	srv.Close()

	r := NewRunner(log.NewNullLogger())
	assert.False(t, r.IsResponding(context.Background(), u, time.Second))
}
