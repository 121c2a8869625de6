package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	outcomes := Run(context.Background(), items, 5, func(_ context.Context, item int) (int, error) {
		// Randomized completion order must not affect result order.
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return item * 2, nil
	})

	require.Len(t, outcomes, len(items))
	for i, out := range outcomes {
		require.Equal(t, i, out.Index)
		require.NoError(t, out.Err)
		require.Equal(t, i*2, out.Value)
	}
}

func TestRun_NeverExceedsConcurrencyBound(t *testing.T) {
	t.Parallel()

	const bound = 3
	var active, peak atomic.Int64

	items := make([]int, 40)
	Run(context.Background(), items, bound, func(_ context.Context, _ int) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})

	require.LessOrEqual(t, peak.Load(), int64(bound))
	require.Positive(t, peak.Load())
}

func TestRun_FailureDoesNotCancelSiblings(t *testing.T) {
	t.Parallel()

	items := []int{0, 1, 2, 3, 4}
	boom := errors.New("boom")

	outcomes := Run(context.Background(), items, 2, func(_ context.Context, item int) (int, error) {
		if item == 2 {
			return 0, boom
		}
		return item, nil
	})

	require.ErrorIs(t, outcomes[2].Err, boom)
	require.False(t, outcomes[2].Aborted)
	for _, i := range []int{0, 1, 3, 4} {
		require.NoError(t, outcomes[i].Err)
		require.Equal(t, i, outcomes[i].Value)
	}
}

func TestRun_CancellationStopsNewStartsKeepsFinished(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int64
	release := make(chan struct{})
	var once sync.Once

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	outcomes := Run(ctx, items, 2, func(ctx context.Context, item int) (int, error) {
		started.Add(1)
		if item < 2 {
			return item, nil
		}
		// Third and fourth workers block until cancellation is raised, then
		// observe the signal and fail fast.
		once.Do(func() {
			cancel()
			close(release)
		})
		<-release
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return item, nil
		}
	})
	defer cancel()

	require.Len(t, outcomes, len(items))
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	require.Equal(t, 0, outcomes[0].Value)
	require.Equal(t, 1, outcomes[1].Value)

	aborted := 0
	for _, out := range outcomes[2:] {
		require.Error(t, out.Err)
		if out.Aborted {
			aborted++
		}
	}
	require.Equal(t, len(items)-2, aborted, "every unit after cancellation must carry the aborted outcome")
	require.LessOrEqual(t, started.Load(), int64(4), "no new workers may start once cancellation is signaled")
}

func TestRun_EmptyInput(t *testing.T) {
	t.Parallel()

	outcomes := Run(context.Background(), nil, 4, func(_ context.Context, _ int) (int, error) {
		t.Fatal("worker must not run")
		return 0, nil
	})
	require.Empty(t, outcomes)
}

func TestRun_ConcurrencyFloor(t *testing.T) {
	t.Parallel()

	outcomes := Run(context.Background(), []int{1, 2, 3}, 0, func(_ context.Context, item int) (int, error) {
		return item, nil
	})
	require.Len(t, outcomes, 3)
	for i, out := range outcomes {
		require.Equal(t, i+1, out.Value)
	}
}
