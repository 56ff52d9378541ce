package browserprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/browserguard/log"
)

func TestRun(t *testing.T) {
	t.Parallel()
	requireUnix(t)

	r := NewRunner(log.NewNullLogger())

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		res, err := r.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"}, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "out\n", res.Stdout)
		assert.Equal(t, "err\n", res.Stderr)
	})
	t.Run("non_zero_exit", func(t *testing.T) {
		t.Parallel()

		res, err := r.Run(context.Background(), "sh", []string{"-c", "exit 3"}, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		_, err := r.Run(context.Background(), "sleep", []string{"5"}, 100*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		_, err := r.Run(context.Background(), "/no/such/command", nil, time.Second)
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	})
}
