package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(4), "capped")
	assert.Equal(t, time.Second, b.Delay(1000), "capped without overflow")
	assert.Equal(t, 100*time.Millisecond, b.Delay(-3))
}

func TestBackoffMonotonic(t *testing.T) {
	t.Parallel()

	for _, b := range []Backoff{
		DefaultProbeBackoff,
		DefaultRelaunchBackoff,
		{Base: time.Millisecond, Factor: 1.2},
		{Base: time.Millisecond, Factor: 0.5},
		{Base: 0, Factor: 3},
	} {
		prev := time.Duration(-1)
		for attempt := 0; attempt < 200; attempt++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "backoff %+v attempt %d", b, attempt)
			prev = d
		}
	}
}

func TestDefaultProbeBackoff(t *testing.T) {
	t.Parallel()

	// 0.5s × 1.2^n for the first probes.
	assert.Equal(t, 600*time.Millisecond, DefaultProbeBackoff.Delay(1))
	assert.Equal(t, 720*time.Millisecond, DefaultProbeBackoff.Delay(2))
}
