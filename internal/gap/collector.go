package gap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/pool"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// Options tunes one collection pass.
type Options struct {
	// MaxConcurrentPages is the chunk size; pages inside a chunk fetch in
	// parallel.
	MaxConcurrentPages int
	// DelayBetweenPages pauses between chunks as back-pressure against the
	// remote site.
	DelayBetweenPages time.Duration
	// PrioritizePartial orders partially-missing pages first; they are the
	// cheapest way to raise completeness.
	PrioritizePartial bool
}

// DefaultOptions is the recommended configuration.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentPages: 3,
		DelayBetweenPages:  time.Second,
		PrioritizePartial:  true,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentPages <= 0 {
		o.MaxConcurrentPages = 3
	}
	return o
}

// PageOutcome records what one target page's repair attempt did.
type PageOutcome struct {
	PageID    int
	SitePages []int
	Missing   int
	Collected int
	Skipped   bool
	Err       string
}

// Result summarizes one collection pass. Unlike the collection stages the
// collector is lenient: per-page failures are recorded here and never abort
// siblings; whatever stays missing surfaces again on the next detection.
type Result struct {
	Collected       int
	Failed          int
	Skipped         int
	PerPageOutcomes []PageOutcome
	Errors          []string
}

// Collector re-fetches exactly the records a Report names as missing.
type Collector struct {
	fetcher catalog.Fetcher
	store   catalog.Store
	mapper  *catalog.PageIndexMapper
	hub     *progress.Hub
	logger  *zap.Logger
	clock   catalog.Clock
}

// NewCollector builds a gap collector.
func NewCollector(
	fetcher catalog.Fetcher,
	store catalog.Store,
	mapper *catalog.PageIndexMapper,
	hub *progress.Hub,
	clock catalog.Clock,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		mapper:  mapper,
		hub:     hub,
		logger:  logger,
		clock:   clock,
	}
}

// Collect repairs the gaps in report. The returned Result always reflects
// everything attempted; the error is non-nil only when the pass itself could
// not proceed (cancellation or an unusable report).
func (c *Collector) Collect(ctx context.Context, runID uuid.UUID, report Report, opts Options) (Result, error) {
	opts = opts.withDefaults()
	var result Result
	if len(report.Gaps) == 0 {
		c.emitSummary(runID, result, "dataset complete, nothing to collect")
		return result, nil
	}
	if report.TotalPages <= 0 {
		return result, catalog.NewInitError("gap report carries no totals", nil)
	}

	offset, err := c.mapper.Offset(report.LastPageRecordCount)
	if err != nil {
		return result, fmt.Errorf("gap collection: %w", err)
	}

	targets := orderTargets(report.Gaps, opts.PrioritizePartial)
	for start := 0; start < len(targets); start += opts.MaxConcurrentPages {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err().Error())
			c.emitSummary(runID, result, "collection cancelled")
			return result, fmt.Errorf("gap collection aborted: %w", ctx.Err())
		}
		if start > 0 && !sleepCtx(ctx, opts.DelayBetweenPages) {
			result.Errors = append(result.Errors, ctx.Err().Error())
			c.emitSummary(runID, result, "collection cancelled")
			return result, fmt.Errorf("gap collection aborted: %w", ctx.Err())
		}

		end := start + opts.MaxConcurrentPages
		if end > len(targets) {
			end = len(targets)
		}
		chunk := targets[start:end]
		outcomes := pool.Run(ctx, chunk, opts.MaxConcurrentPages,
			func(ctx context.Context, gap PageGap) (PageOutcome, error) {
				return c.collectPage(ctx, runID, gap, report, offset), nil
			})
		for i, out := range outcomes {
			outcome := out.Value
			if out.Aborted {
				outcome = PageOutcome{
					PageID:  chunk[i].PageID,
					Missing: len(chunk[i].MissingIndices),
					Skipped: true,
					Err:     "aborted before start",
				}
			}
			result.PerPageOutcomes = append(result.PerPageOutcomes, outcome)
			switch {
			case outcome.Err != "" && !outcome.Skipped:
				result.Failed++
				result.Errors = append(result.Errors,
					fmt.Sprintf("page %d: %s", outcome.PageID, outcome.Err))
			case outcome.Skipped:
				result.Skipped++
			default:
				result.Collected += outcome.Collected
			}
		}
	}

	c.emitSummary(runID, result, fmt.Sprintf("%d pages targeted", len(targets)))
	c.logger.Info("gap collection finished",
		zap.Int("pages_targeted", len(targets)),
		zap.Int("records_collected", result.Collected),
		zap.Int("pages_failed", result.Failed),
		zap.Int("pages_skipped", result.Skipped))
	return result, nil
}

// orderTargets sorts partially-missing pages first when requested (higher
// completeness first, so the cheapest repairs land early), falling back to
// ascending pageId.
func orderTargets(gaps []PageGap, prioritizePartial bool) []PageGap {
	targets := append([]PageGap(nil), gaps...)
	sort.SliceStable(targets, func(i, j int) bool {
		if prioritizePartial {
			iPartial := !targets[i].FullyMissing()
			jPartial := !targets[j].FullyMissing()
			if iPartial != jPartial {
				return iPartial
			}
			if iPartial && targets[i].CompletenessRatio != targets[j].CompletenessRatio {
				return targets[i].CompletenessRatio > targets[j].CompletenessRatio
			}
		}
		return targets[i].PageID < targets[j].PageID
	})
	return targets
}

// collectPage fetches every site page the target pageId straddles, filters
// the haul down to the recorded missing slots and persists only those.
func (c *Collector) collectPage(ctx context.Context, runID uuid.UUID, gap PageGap, report Report, offset int) PageOutcome {
	outcome := PageOutcome{PageID: gap.PageID, Missing: len(gap.MissingIndices)}
	if len(gap.MissingIndices) == 0 {
		outcome.Skipped = true
		return outcome
	}

	sitePages, err := c.mapper.SitePagesFor(gap.PageID, report.TotalPages, offset)
	if err != nil {
		outcome.Err = err.Error()
		c.emitPage(runID, outcome)
		return outcome
	}
	outcome.SitePages = sitePages

	missing := make(map[int]struct{}, len(gap.MissingIndices))
	for _, idx := range gap.MissingIndices {
		missing[idx] = struct{}{}
	}

	var wanted []catalog.Record
	for _, sitePage := range sitePages {
		page, err := c.fetcher.FetchListingPage(ctx, sitePage, 1)
		if err != nil {
			outcome.Err = err.Error()
			c.logger.Warn("gap page fetch failed",
				zap.Int("page_id", gap.PageID),
				zap.Int("site_page", sitePage),
				zap.String("kind", string(catalog.KindOf(err))),
				zap.Error(err))
			c.emitPage(runID, outcome)
			return outcome
		}
		for _, rec := range page.Records {
			pageID, index, err := c.mapper.MapSlot(sitePage, rec.IndexInPage, offset, report.TotalPages)
			if err != nil || pageID != gap.PageID {
				continue
			}
			if _, want := missing[index]; !want {
				continue
			}
			rec.PageID = pageID
			rec.IndexInPage = index
			wanted = append(wanted, rec)
		}
	}

	if len(wanted) == 0 {
		// The site no longer serves these slots; leave them for the next
		// detection pass.
		outcome.Skipped = true
		c.emitPage(runID, outcome)
		return outcome
	}

	saved, err := c.store.Save(ctx, wanted)
	if err != nil {
		outcome.Err = fmt.Sprintf("persist: %v", err)
		c.emitPage(runID, outcome)
		return outcome
	}
	outcome.Collected = saved.Added + saved.Updated
	c.emitPage(runID, outcome)
	return outcome
}

func (c *Collector) emitPage(runID uuid.UUID, outcome PageOutcome) {
	status := "collected"
	switch {
	case outcome.Err != "":
		status = "failed"
	case outcome.Skipped:
		status = "skipped"
	}
	c.hub.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(runID),
		TS:     c.clock.Now(),
		Stage:  progress.StageGapCollect,
		Kind:   progress.KindGapCollection,
		PageID: outcome.PageID,
		Status: status,
		Counts: progress.Counts{
			Missing:   int64(outcome.Missing),
			Succeeded: int64(outcome.Collected),
		},
		Note: outcome.Err,
	})
}

func (c *Collector) emitSummary(runID uuid.UUID, result Result, note string) {
	c.hub.Emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    c.clock.Now(),
		Stage: progress.StageGapCollect,
		Kind:  progress.KindStageSummary,
		Counts: progress.Counts{
			Total:     int64(len(result.PerPageOutcomes)),
			Succeeded: int64(result.Collected),
			Failed:    int64(result.Failed),
		},
		Note: note,
	})
}

// sleepCtx pauses between chunks, returning false if ctx expired first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
