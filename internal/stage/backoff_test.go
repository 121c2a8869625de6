package stage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPauseZeroBaseIsImmediate(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryDelay: 0}
	require.Zero(t, retryPause(cfg, 1))
	require.Zero(t, retryPause(cfg, 5))
}

func TestRetryPauseGrowsPerCycleWithinBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryDelay: time.Second}
	for cycle := 1; cycle <= 4; cycle++ {
		full := time.Duration(float64(time.Second) * float64(int(1)<<(cycle-1)))
		got := retryPause(cfg, cycle)
		require.GreaterOrEqual(t, got, full/2, "cycle %d", cycle)
		require.Less(t, got, full+time.Millisecond, "cycle %d", cycle)
	}
}

func TestRetryPauseIsCapped(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryDelay: 10 * time.Second}
	got := retryPause(cfg, 20)
	require.LessOrEqual(t, got, maxRetryPause)
	require.GreaterOrEqual(t, got, maxRetryPause/2)
}

func TestRetryPauseClampsCycle(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryDelay: time.Second}
	got := retryPause(cfg, 0)
	require.GreaterOrEqual(t, got, 500*time.Millisecond)
	require.Less(t, got, time.Second+time.Millisecond)
}
