// Package gap implements the repair pipeline: detecting which stored pages
// are missing records and re-fetching exactly those records. It runs against
// persisted state independently of the collection stages.
package gap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// fallbackSafetyMargin widens the scanned range past the newest stored page
// when live totals cannot be fetched, so records the store has never seen
// still register as missing.
const fallbackSafetyMargin = 2

// mergeGapSitePages is the maximum distance between missing site pages that
// still lands them in one crawling range.
const mergeGapSitePages = 3

// PageGap describes one pageId whose stored records fall short of
// expectation.
type PageGap struct {
	PageID            int
	ExpectedCount     int
	ActualCount       int
	MissingIndices    []int
	CompletenessRatio float64
}

// FullyMissing reports whether no record of the page was ever stored.
func (g PageGap) FullyMissing() bool {
	return g.ActualCount == 0
}

// CrawlingRange is a contiguous span of site pages worth re-fetching in one
// pass. Boundaries are expanded by one page beyond the missing pages so that
// off-by-one drift on the live site is still covered.
type CrawlingRange struct {
	StartSitePage           int
	EndSitePage             int
	ContainedMissingPageIDs []int
	Priority                int
	EstimatedRecords        int
}

// SitePages returns the number of site pages the range spans.
func (r CrawlingRange) SitePages() int {
	return r.EndSitePage - r.StartSitePage + 1
}

// Estimate is a convenience sizing suggestion attached to a report. It is
// advisory only; collection correctness never depends on it.
type Estimate struct {
	SitePages   int
	Concurrency int
	Batches     int
	Duration    time.Duration
}

// Report is the outcome of one detection pass. It is computed fresh every
// time and never persisted; a repaired page simply stops appearing.
type Report struct {
	GeneratedAt         time.Time
	TotalPages          int
	LastPageRecordCount int
	TotalsFromFallback  bool
	Gaps                []PageGap
	Ranges              []CrawlingRange
	TotalMissingRecords int
	Estimate            Estimate
}

// Empty reports whether the dataset was found complete.
func (r Report) Empty() bool {
	return r.TotalMissingRecords == 0 && len(r.Ranges) == 0
}

// Detector compares stored state against per-page expectations.
type Detector struct {
	store   catalog.Store
	fetcher catalog.Fetcher
	mapper  *catalog.PageIndexMapper
	hub     *progress.Hub
	logger  *zap.Logger
	clock   catalog.Clock
}

// NewDetector builds a gap detector.
func NewDetector(
	store catalog.Store,
	fetcher catalog.Fetcher,
	mapper *catalog.PageIndexMapper,
	hub *progress.Hub,
	clock catalog.Clock,
	logger *zap.Logger,
) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:   store,
		fetcher: fetcher,
		mapper:  mapper,
		hub:     hub,
		logger:  logger,
		clock:   clock,
	}
}

// Detect scans every pageId from 0 through the newest known page.
func (d *Detector) Detect(ctx context.Context, runID uuid.UUID) (Report, error) {
	totals, fallback, err := d.resolveTotals(ctx)
	if err != nil {
		return Report{}, err
	}
	return d.detect(ctx, runID, totals, fallback, 0, totals.TotalPages-1)
}

// DetectInRange scans only pageIds in [startPageID, endPageID]. A negative
// bound defaults to the dataset edge: start to 0, end to the newest known
// page.
func (d *Detector) DetectInRange(ctx context.Context, runID uuid.UUID, startPageID, endPageID int) (Report, error) {
	if startPageID < 0 {
		startPageID = 0
	}
	if endPageID >= 0 && endPageID < startPageID {
		return Report{}, catalog.NewInitError(
			fmt.Sprintf("invalid detection range %d..%d", startPageID, endPageID), nil)
	}
	totals, fallback, err := d.resolveTotals(ctx)
	if err != nil {
		return Report{}, err
	}
	if endPageID < 0 || endPageID > totals.TotalPages-1 {
		endPageID = totals.TotalPages - 1
	}
	return d.detect(ctx, runID, totals, fallback, startPageID, endPageID)
}

// resolveTotals prefers live site totals and degrades to an estimate from
// the newest stored page. The fallback cannot know the boundary page's real
// record count, so it assumes a full page there.
func (d *Detector) resolveTotals(ctx context.Context) (catalog.SiteTotals, bool, error) {
	totals, err := d.fetcher.FetchSiteTotals(ctx)
	if err == nil && totals.TotalPages > 0 {
		return totals, false, nil
	}
	if ctx.Err() != nil {
		return catalog.SiteTotals{}, false, fmt.Errorf("gap detection aborted: %w", ctx.Err())
	}
	d.logger.Warn("site totals unavailable, falling back to stored maximum", zap.Error(err))

	maxKnown, ok, serr := d.store.MaxKnownPageID(ctx)
	if serr != nil {
		return catalog.SiteTotals{}, false, fmt.Errorf("gap detection: totals fallback: %w", serr)
	}
	if !ok {
		return catalog.SiteTotals{}, false, catalog.NewInitError(
			"cannot size detection: site totals unavailable and store is empty", err)
	}
	return catalog.SiteTotals{
		TotalPages:          maxKnown + 1 + fallbackSafetyMargin,
		LastPageRecordCount: d.mapper.PageSize(),
		FetchedAt:           d.clock.Now(),
	}, true, nil
}

func (d *Detector) detect(
	ctx context.Context,
	runID uuid.UUID,
	totals catalog.SiteTotals,
	fallback bool,
	startPageID, endPageID int,
) (Report, error) {
	report := Report{
		GeneratedAt:         d.clock.Now(),
		TotalPages:          totals.TotalPages,
		LastPageRecordCount: totals.LastPageRecordCount,
		TotalsFromFallback:  fallback,
	}
	if endPageID < startPageID {
		return report, nil
	}

	for pageID := startPageID; pageID <= endPageID; pageID++ {
		if ctx.Err() != nil {
			return report, fmt.Errorf("gap detection aborted: %w", ctx.Err())
		}
		gap, complete, err := d.inspectPage(ctx, pageID, totals)
		if err != nil {
			return report, err
		}
		if complete {
			continue
		}
		report.Gaps = append(report.Gaps, gap)
		report.TotalMissingRecords += len(gap.MissingIndices)
	}

	if err := d.buildRanges(&report, totals); err != nil {
		return report, err
	}
	report.Estimate = buildEstimate(report)

	d.emitReport(runID, report)
	d.logger.Info("gap detection finished",
		zap.Int("pages_scanned", endPageID-startPageID+1),
		zap.Int("pages_with_gaps", len(report.Gaps)),
		zap.Int("missing_records", report.TotalMissingRecords),
		zap.Int("ranges", len(report.Ranges)),
		zap.Bool("totals_fallback", fallback))
	return report, nil
}

func (d *Detector) inspectPage(ctx context.Context, pageID int, totals catalog.SiteTotals) (PageGap, bool, error) {
	expected, err := d.mapper.ExpectedCount(pageID, totals.TotalPages, totals.LastPageRecordCount)
	if err != nil {
		return PageGap{}, false, fmt.Errorf("gap detection: %w", err)
	}
	actual, err := d.store.CountExisting(ctx, pageID)
	if err != nil {
		return PageGap{}, false, fmt.Errorf("gap detection: count page %d: %w", pageID, err)
	}
	if actual >= expected {
		return PageGap{}, true, nil
	}

	gap := PageGap{
		PageID:            pageID,
		ExpectedCount:     expected,
		ActualCount:       actual,
		CompletenessRatio: float64(actual) / float64(expected),
	}
	if actual == 0 {
		gap.MissingIndices = make([]int, expected)
		for i := range gap.MissingIndices {
			gap.MissingIndices[i] = i
		}
		return gap, false, nil
	}

	stored, err := d.store.ExistingSlotIndices(ctx, pageID)
	if err != nil {
		return PageGap{}, false, fmt.Errorf("gap detection: slots of page %d: %w", pageID, err)
	}
	present := make(map[int]struct{}, len(stored))
	for _, idx := range stored {
		present[idx] = struct{}{}
	}
	for i := 0; i < expected; i++ {
		if _, ok := present[i]; !ok {
			gap.MissingIndices = append(gap.MissingIndices, i)
		}
	}
	return gap, false, nil
}

// buildRanges maps gap pageIds onto site pages, merges near-adjacent site
// pages and assigns priorities.
func (d *Detector) buildRanges(report *Report, totals catalog.SiteTotals) error {
	if len(report.Gaps) == 0 {
		return nil
	}
	offset, err := d.mapper.Offset(totals.LastPageRecordCount)
	if err != nil {
		return fmt.Errorf("gap detection: %w", err)
	}

	gapByPageID := make(map[int]PageGap, len(report.Gaps))
	pageIDsBySitePage := make(map[int][]int)
	for _, gap := range report.Gaps {
		gapByPageID[gap.PageID] = gap
		sitePages, err := d.mapper.SitePagesFor(gap.PageID, totals.TotalPages, offset)
		if err != nil {
			return fmt.Errorf("gap detection: %w", err)
		}
		for _, sp := range sitePages {
			pageIDsBySitePage[sp] = append(pageIDsBySitePage[sp], gap.PageID)
		}
	}

	sitePages := make([]int, 0, len(pageIDsBySitePage))
	for sp := range pageIDsBySitePage {
		sitePages = append(sitePages, sp)
	}
	sort.Ints(sitePages)

	var clusters [][]int
	for _, sp := range sitePages {
		if n := len(clusters); n > 0 && sp-clusters[n-1][len(clusters[n-1])-1] <= mergeGapSitePages {
			clusters[n-1] = append(clusters[n-1], sp)
			continue
		}
		clusters = append(clusters, []int{sp})
	}

	for _, cluster := range clusters {
		seen := make(map[int]struct{})
		var pageIDs []int
		estimated := 0
		fullyMissing := false
		for _, sp := range cluster {
			for _, pageID := range pageIDsBySitePage[sp] {
				if _, dup := seen[pageID]; dup {
					continue
				}
				seen[pageID] = struct{}{}
				pageIDs = append(pageIDs, pageID)
				gap := gapByPageID[pageID]
				estimated += len(gap.MissingIndices)
				if gap.FullyMissing() {
					fullyMissing = true
				}
			}
		}
		sort.Ints(pageIDs)

		start := cluster[0] - 1
		if start < 1 {
			start = 1
		}
		end := cluster[len(cluster)-1] + 1
		if end > totals.TotalPages {
			end = totals.TotalPages
		}
		report.Ranges = append(report.Ranges, CrawlingRange{
			StartSitePage:           start,
			EndSitePage:             end,
			ContainedMissingPageIDs: pageIDs,
			Priority:                rangePriority(len(cluster), len(pageIDs), fullyMissing),
			EstimatedRecords:        estimated,
		})
	}
	return nil
}

// rangePriority: wide clusters first, then multi-page or fully-missing gaps,
// then lone partial pages.
func rangePriority(clusterSitePages, missingPageIDs int, fullyMissing bool) int {
	switch {
	case clusterSitePages >= 3:
		return 1
	case missingPageIDs > 1 || fullyMissing:
		return 2
	default:
		return 3
	}
}

// buildEstimate derives an advisory batch plan from the merged ranges.
func buildEstimate(report Report) Estimate {
	pages := 0
	for _, r := range report.Ranges {
		pages += r.SitePages()
	}
	if pages == 0 {
		return Estimate{}
	}
	concurrency := 3
	if pages < concurrency {
		concurrency = pages
	}
	batches := (pages + concurrency - 1) / concurrency
	return Estimate{
		SitePages:   pages,
		Concurrency: concurrency,
		Batches:     batches,
		Duration:    time.Duration(batches) * 2 * time.Second,
	}
}

func (d *Detector) emitReport(runID uuid.UUID, report Report) {
	d.hub.Emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    d.clock.Now(),
		Stage: progress.StageGapDetect,
		Kind:  progress.KindGapReport,
		Counts: progress.Counts{
			Total:   int64(report.TotalPages),
			Missing: int64(report.TotalMissingRecords),
		},
		Note: fmt.Sprintf("%d pages with gaps, %d crawling ranges", len(report.Gaps), len(report.Ranges)),
	})
}
