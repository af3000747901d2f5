package syncengine

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffBase, maxRetries and jitterPercent mirror the bound spec'd for the
// sync engine's retry schedule: 2s exponential base, five retries, ±25%
// jitter, with each delay capped at maxBackoff (15s).
const (
	backoffBase   = 2 * time.Second
	maxRetries    = 5
	jitterPercent = 25
	maxBackoff    = 15 * time.Second
)

// backoffForAttempt returns the delay a caller should wait before retrying
// the attempt-th failure (0-based), and whether the retry budget is
// exhausted. It never sleeps — the schedule is consulted by
// Engine.RetryDue, which compares the delay against elapsed wall-clock
// time itself.
func backoffForAttempt(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}

	b := retry.NewExponential(backoffBase)
	b = retry.WithMaxRetries(maxRetries, b)
	b = retry.WithJitterPercent(jitterPercent, b)

	var (
		delay     time.Duration
		exhausted bool
	)

	for i := 0; i <= attempt; i++ {
		delay, exhausted = b.Next()
		if exhausted {
			return 0, true
		}
	}

	if delay > maxBackoff {
		delay = maxBackoff
	}

	return delay, false
}
