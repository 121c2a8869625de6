package headless

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

func TestNew_RejectsNegativeParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil, nil)
	require.True(t, catalog.IsInitError(err))
}

func TestAcquire_BoundsParallelTabs(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 2)}
	ctx := context.Background()
	require.NoError(t, f.acquire(ctx))
	require.NoError(t, f.acquire(ctx))

	full, cancel := context.WithCancel(ctx)
	cancel()
	err := f.acquire(full)
	require.Error(t, err, "third slot blocks until a tab frees")
	require.Equal(t, catalog.ErrAborted, catalog.Classify(err))

	f.release()
	require.NoError(t, f.acquire(ctx))
}

func TestAcquire_UnboundedWhenNoLimiter(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	for i := 0; i < 100; i++ {
		require.NoError(t, f.acquire(context.Background()))
	}
	f.release()
}

func TestNoop_AlwaysFailsWithInitialization(t *testing.T) {
	t.Parallel()

	n := NewNoop()
	_, err := n.FetchListingPage(context.Background(), 3, 1)
	require.Equal(t, catalog.ErrInitialization, catalog.KindOf(err))
	require.True(t, catalog.IsInitError(err))

	_, err = n.FetchSiteTotals(context.Background())
	require.True(t, catalog.IsInitError(err))

	_, err = n.FetchRecordDetail(context.Background(), catalog.Record{}, 1)
	require.Equal(t, catalog.ErrInitialization, catalog.KindOf(err))
}
