package gap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// siteFetcher serves a synthetic catalog: every site page is full except the
// boundary page, which holds the tail slots only.
type siteFetcher struct {
	mu        sync.Mutex
	totals    catalog.SiteTotals
	totalsErr error
	pageSize  int
	failPages map[int]error
	fetched   []int
}

func newSiteFetcher(totalPages, lastCnt, pageSize int) *siteFetcher {
	return &siteFetcher{
		totals:    catalog.SiteTotals{TotalPages: totalPages, LastPageRecordCount: lastCnt, FetchedAt: time.Unix(1, 0)},
		pageSize:  pageSize,
		failPages: make(map[int]error),
	}
}

func (f *siteFetcher) FetchListingPage(_ context.Context, sitePage, attempt int) (catalog.ListingPage, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, sitePage)
	failErr := f.failPages[sitePage]
	f.mu.Unlock()
	if failErr != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(catalog.ErrNavigation, sitePage, attempt, failErr)
	}

	count, first := f.pageSize, 0
	if sitePage == 1 {
		count = f.totals.LastPageRecordCount
		first = f.pageSize - count
	}
	recs := make([]catalog.Record, 0, count)
	for i := 0; i < count; i++ {
		slot := first + i
		recs = append(recs, catalog.Record{
			URL:         fmt.Sprintf("https://certs.example/p%d/s%d", sitePage, slot),
			IndexInPage: slot,
			Title:       fmt.Sprintf("device %d-%d", sitePage, slot),
		})
	}
	return catalog.ListingPage{SitePage: sitePage, Records: recs, Attempt: attempt}, nil
}

func (f *siteFetcher) FetchSiteTotals(context.Context) (catalog.SiteTotals, error) {
	if f.totalsErr != nil {
		return catalog.SiteTotals{}, f.totalsErr
	}
	return f.totals, nil
}

func (f *siteFetcher) FetchRecordDetail(_ context.Context, rec catalog.Record, _ int) (catalog.Record, error) {
	return rec, nil
}

func (f *siteFetcher) fetchOrder() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.fetched...)
}

// seedStore fills the store from the synthetic site, skipping the slots the
// test wants to be missing.
func seedStore(t *testing.T, store *memory.Store, f *siteFetcher, mapper *catalog.PageIndexMapper, skip func(pageID, index int) bool) {
	t.Helper()
	ctx := context.Background()
	offset, err := mapper.Offset(f.totals.LastPageRecordCount)
	require.NoError(t, err)
	for sitePage := 1; sitePage <= f.totals.TotalPages; sitePage++ {
		page, err := f.FetchListingPage(ctx, sitePage, 1)
		require.NoError(t, err)
		var keep []catalog.Record
		for _, rec := range page.Records {
			pageID, index, err := mapper.MapSlot(sitePage, rec.IndexInPage, offset, f.totals.TotalPages)
			require.NoError(t, err)
			if skip != nil && skip(pageID, index) {
				continue
			}
			rec.PageID = pageID
			rec.IndexInPage = index
			keep = append(keep, rec)
		}
		_, err = store.Save(ctx, keep)
		require.NoError(t, err)
	}
	f.mu.Lock()
	f.fetched = nil
	f.mu.Unlock()
}

func newDetector(t *testing.T, store catalog.Store, f *siteFetcher) *Detector {
	t.Helper()
	mapper, err := catalog.NewPageIndexMapper(f.pageSize)
	require.NoError(t, err)
	return NewDetector(store, f, mapper, nil, &fakeClock{now: time.Unix(42, 0).UTC()}, zap.NewNop())
}

func TestDetector_CompleteDatasetReportsNoGaps(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 5, 12)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	seedStore(t, store, f, d.mapper, nil)

	report, err := d.Detect(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Zero(t, report.TotalMissingRecords)
	require.Empty(t, report.Ranges)
	require.Zero(t, report.Estimate.SitePages)
}

func TestDetector_FindsMissingSlotsAndPages(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 5, 12)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	seedStore(t, store, f, d.mapper, func(pageID, index int) bool {
		if pageID == 4 {
			return true // fully missing
		}
		return pageID == 2 && (index == 1 || index == 7)
	})

	report, err := d.Detect(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, report.TotalsFromFallback)
	require.Equal(t, 10, report.TotalPages)
	require.Len(t, report.Gaps, 2)
	require.Equal(t, 14, report.TotalMissingRecords)

	partial := report.Gaps[0]
	require.Equal(t, 2, partial.PageID)
	require.Equal(t, []int{1, 7}, partial.MissingIndices)
	require.Equal(t, 12, partial.ExpectedCount)
	require.Equal(t, 10, partial.ActualCount)
	require.InDelta(t, 10.0/12.0, partial.CompletenessRatio, 1e-9)
	require.False(t, partial.FullyMissing())

	full := report.Gaps[1]
	require.Equal(t, 4, full.PageID)
	require.True(t, full.FullyMissing())
	require.Len(t, full.MissingIndices, 12)
}

func TestDetector_BoundaryPageExpectation(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 5, 12)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	// The boundary page (pageId 9, site page 1) holds only 5 records; seed
	// them all plus everything else, so a correct detector sees no gap.
	seedStore(t, store, f, d.mapper, nil)

	report, err := d.DetectInRange(context.Background(), uuid.New(), 9, 9)
	require.NoError(t, err)
	require.True(t, report.Empty())
}

func TestDetector_TotalsFallback(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 12, 12)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	seedStore(t, store, f, d.mapper, func(pageID, _ int) bool { return pageID > 6 })

	f.totalsErr = errors.New("pagination widget missing")
	report, err := d.Detect(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, report.TotalsFromFallback)
	// max stored pageId 6, plus the safety margin.
	require.Equal(t, 6+1+fallbackSafetyMargin, report.TotalPages)
	require.Equal(t, 12, report.LastPageRecordCount)
	// Pages 7 and 8 inside the widened window register as fully missing.
	require.Len(t, report.Gaps, 2)
}

func TestDetector_TotalsFallbackEmptyStore(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 12, 12)
	f.totalsErr = errors.New("site down")
	d := newDetector(t, memory.NewStore(), f)

	_, err := d.Detect(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, catalog.IsInitError(err))
}

func TestDetector_MergeAdjacentSitePagesIntoRanges(t *testing.T) {
	t.Parallel()

	// 20 site pages, full boundary page so every pageId maps to exactly one
	// site page. Missing pageIds 1,2,3 (site pages 17..19, adjacent) and 10
	// (site page 10, far away).
	f := newSiteFetcher(20, 4, 4)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	missing := map[int]bool{1: true, 2: true, 3: true, 10: true}
	seedStore(t, store, f, d.mapper, func(pageID, _ int) bool { return missing[pageID] })

	report, err := d.Detect(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, report.Ranges, 2)

	lone := report.Ranges[0]
	require.Equal(t, 9, lone.StartSitePage)
	require.Equal(t, 11, lone.EndSitePage)
	require.Equal(t, []int{10}, lone.ContainedMissingPageIDs)
	require.Equal(t, 2, lone.Priority, "a single fully-missing page outranks a lone partial")

	merged := report.Ranges[1]
	require.Equal(t, 16, merged.StartSitePage)
	require.Equal(t, 20, merged.EndSitePage)
	require.Equal(t, []int{1, 2, 3}, merged.ContainedMissingPageIDs)
	require.Equal(t, 1, merged.Priority)
	require.Equal(t, 12, merged.EstimatedRecords)

	require.Equal(t, 8, report.Estimate.SitePages)
	require.Equal(t, 3, report.Estimate.Concurrency)
}

func TestDetector_RangeBoundariesClamped(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(6, 4, 4)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	// pageId 5 -> site page 1; pageId 0 -> site page 6: both at the edges.
	missing := map[int]bool{0: true, 5: true}
	seedStore(t, store, f, d.mapper, func(pageID, _ int) bool { return missing[pageID] })

	report, err := d.Detect(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, report.Ranges, 2)
	require.Equal(t, 1, report.Ranges[0].StartSitePage, "expansion never drops below site page 1")
	require.Equal(t, 6, report.Ranges[1].EndSitePage, "expansion never exceeds the page count")
}

func TestDetector_DetectInRangeValidation(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 5, 12)
	d := newDetector(t, memory.NewStore(), f)

	_, err := d.DetectInRange(context.Background(), uuid.New(), 5, 2)
	require.True(t, catalog.IsInitError(err))
}

func TestDetector_DetectInRangeDefaultsOpenBounds(t *testing.T) {
	t.Parallel()

	f := newSiteFetcher(10, 5, 12)
	store := memory.NewStore()
	d := newDetector(t, store, f)
	seedStore(t, store, f, d.mapper, func(pageID, _ int) bool { return pageID >= 4 })

	// An open end bound runs through the oldest known page.
	report, err := d.DetectInRange(context.Background(), uuid.New(), 4, -1)
	require.NoError(t, err)
	require.Len(t, report.Gaps, 6)

	// An open start bound begins at the newest page.
	report, err = d.DetectInRange(context.Background(), uuid.New(), -1, 3)
	require.NoError(t, err)
	require.True(t, report.Empty())
}
