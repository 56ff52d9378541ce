package browserprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	res  Result
	err  error
	name string
}

func (f *fakeRunner) Run(_ context.Context, name string, _ []string, _ time.Duration) (Result, error) {
	f.name = name
	return f.res, f.err
}

func TestScreenSize(t *testing.T) {
	t.Parallel()

	const xrandr = `Screen 0: minimum 8 x 8, current 1920 x 1080, maximum 32767 x 32767
screen connected primary 1920x1080+0+0 0mm x 0mm
   1920x1080     60.00*+
`

	testCases := []struct {
		name    string
		runner  *fakeRunner
		wantW   int
		wantH   int
		wantErr string
	}{
		{
			name:   "ok",
			runner: &fakeRunner{res: Result{Stdout: xrandr}},
			wantW:  1920,
			wantH:  1080,
		},
		{
			name:    "run_error",
			runner:  &fakeRunner{err: errors.New("boom")},
			wantErr: "querying screen size: boom",
		},
		{
			name:    "exit_status",
			runner:  &fakeRunner{res: Result{ExitCode: 1, Stderr: "Can't open display"}},
			wantErr: "xrandr exited with status 1: Can't open display",
		},
		{
			name:    "no_match",
			runner:  &fakeRunner{res: Result{Stdout: "nothing useful"}},
			wantErr: "no current screen size",
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w, h, err := ScreenSize(context.Background(), tc.runner)
			assert.Equal(t, "xrandr", tc.runner.name)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}
