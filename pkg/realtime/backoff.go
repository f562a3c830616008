package realtime

import (
	"math"
	"time"
)

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at ceiling when ceiling > 0.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
