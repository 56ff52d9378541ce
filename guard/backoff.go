package guard

import (
	"math"
	"time"
)

// Backoff maps an attempt number to a delay: Base × Factor^attempt, capped
// at Max when Max is set. Delays never decrease with the attempt number as
// long as Factor is at least 1.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Default backoffs between readiness probes of a launched browser and
// between relaunches.
var (
	DefaultProbeBackoff    = Backoff{Base: 500 * time.Millisecond, Factor: 1.2, Max: 5 * time.Second} //nolint:gochecknoglobals
	DefaultRelaunchBackoff = Backoff{Base: 100 * time.Millisecond, Factor: 2, Max: 10 * time.Second}  //nolint:gochecknoglobals
)

// Delay returns the delay before attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	f := b.Factor
	if f < 1 {
		f = 1
	}

	d := float64(b.Base) * math.Pow(f, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(math.Round(d))
}
