package stage

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// maxRetryPause caps the exponential growth of inter-cycle pauses.
const maxRetryPause = 30 * time.Second

// retryPause computes the jittered exponential pause before a retry cycle.
// cycle is 1-based; the configured RetryDelay is the base. Half the delay is
// fixed, half is random, so concurrent stages don't hammer the site in sync.
func retryPause(cfg Config, cycle int) time.Duration {
	if cfg.RetryDelay <= 0 {
		return 0
	}
	if cycle < 1 {
		cycle = 1
	}
	delay := float64(cfg.RetryDelay) * math.Pow(2, float64(cycle-1))
	if delay > float64(maxRetryPause) {
		delay = float64(maxRetryPause)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
