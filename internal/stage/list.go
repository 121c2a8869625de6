package stage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/pool"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// Config controls a collection stage's concurrency and retry behavior.
type Config struct {
	// InitialConcurrency bounds the first collection pass.
	InitialConcurrency int
	// RetryConcurrency bounds retry cycles; typically lower than the
	// initial pass to go easier on the remote site.
	RetryConcurrency int
	// RetryLimit is the maximum number of retry cycles.
	RetryLimit int
	// RetryDelay is the base pause between retry cycles; later cycles back
	// off exponentially with jitter, capped at maxRetryPause.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialConcurrency <= 0 {
		c.InitialConcurrency = 4
	}
	if c.RetryConcurrency <= 0 {
		c.RetryConcurrency = 2
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	return c
}

// Result is what a stage run produced, returned even when the stage failed
// so a cancelled or partially-failed run still flushes what it gathered.
type Result struct {
	Records    []catalog.Record
	Summary    Summary
	Phases     []PhaseChange
	FailureLog map[int][]string
}

// ListStage fetches every listing page in a computed range with bounded
// concurrency, then retries only incomplete pages for a bounded number of
// cycles. The stage is strict: downstream page-index math assumes full
// coverage of the range, so any permanently unresolved page fails the whole
// stage even though its siblings succeeded.
type ListStage struct {
	fetcher catalog.Fetcher
	mapper  *catalog.PageIndexMapper
	hub     *progress.Hub
	logger  *zap.Logger
	clock   catalog.Clock
	cfg     Config
}

// NewListStage builds a list-collection stage.
func NewListStage(
	fetcher catalog.Fetcher,
	mapper *catalog.PageIndexMapper,
	hub *progress.Hub,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *ListStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListStage{
		fetcher: fetcher,
		mapper:  mapper,
		hub:     hub,
		logger:  logger,
		clock:   clock,
		cfg:     cfg.withDefaults(),
	}
}

// ComputeRange derives the descending pageId range to collect. pageLimit
// caps the number of pages fetched from the newest side (0 = unlimited);
// alreadyCollectedPages narrows repeat runs to the incremental delta by
// trimming pages a previous run already covered from the oldest side.
func ComputeRange(totals catalog.SiteTotals, pageLimit, alreadyCollectedPages int) catalog.PageRange {
	start := totals.TotalPages - 1
	if alreadyCollectedPages > 0 {
		start -= alreadyCollectedPages
	}
	if pageLimit > 0 && pageLimit-1 < start {
		start = pageLimit - 1
	}
	return catalog.PageRange{Start: start, End: 0}
}

type listRun struct {
	stage   *ListStage
	state   *State
	cache   *pageCache
	totals  catalog.SiteTotals
	offset  int
	runID   uuid.UUID
	mu      sync.Mutex
	faillog map[int][]string
}

// Collect executes the full list-collection flow against the given totals
// snapshot. On the strict-policy failure path the returned Result still
// carries every record gathered so far along with a non-nil error.
func (s *ListStage) Collect(
	ctx context.Context,
	runID uuid.UUID,
	totals catalog.SiteTotals,
	pageLimit int,
	alreadyCollectedPages int,
) (Result, error) {
	pageRange := ComputeRange(totals, pageLimit, alreadyCollectedPages)
	if pageRange.Empty() {
		s.logger.Info("list range is empty, nothing to collect",
			zap.Int("total_pages", totals.TotalPages),
			zap.Int("already_collected", alreadyCollectedPages))
		return Result{}, nil
	}

	offset, err := s.mapper.Offset(totals.LastPageRecordCount)
	if err != nil {
		return Result{}, fmt.Errorf("list stage: %w", err)
	}

	run := &listRun{
		stage:   s,
		cache:   newPageCache(),
		totals:  totals,
		offset:  offset,
		runID:   runID,
		faillog: make(map[int][]string),
	}
	run.state = NewState(s.clock, run.emitPhase, run.emitUnit)

	units := make([]Unit, 0, pageRange.Len())
	for pageID := pageRange.End; pageID <= pageRange.Start; pageID++ {
		units = append(units, Unit{ID: unitID(pageID), PageID: pageID})
	}
	if err := run.state.InitUnits(units); err != nil {
		return Result{}, fmt.Errorf("list stage: %w", err)
	}

	if err := run.state.SetPhase(PhaseCollecting, fmt.Sprintf(
		"collecting %d pages (pageId %d..%d)", pageRange.Len(), pageRange.Start, pageRange.End)); err != nil {
		return Result{}, fmt.Errorf("list stage: %w", err)
	}
	run.runPass(ctx, run.state.Units(), s.cfg.InitialConcurrency)

	run.retryLoop(ctx)

	return run.finish(ctx)
}

func (r *listRun) retryLoop(ctx context.Context) {
	for {
		outstanding := r.state.Outstanding()
		if len(outstanding) == 0 || r.state.Cycle() >= r.stage.cfg.RetryLimit || ctx.Err() != nil {
			return
		}
		if err := r.state.SetPhase(PhaseRetrying, fmt.Sprintf("%d pages outstanding", len(outstanding))); err != nil {
			return
		}
		cycle := r.state.BeginRetryCycle()
		r.stage.hub.Emit(progress.Event{
			RunID: progress.UUIDToBytes(r.runID),
			TS:    r.stage.clock.Now(),
			Stage: progress.StageList,
			Kind:  progress.KindRetryCycle,
			Cycle: cycle,
			Note:  fmt.Sprintf("%d pages outstanding", len(outstanding)),
		})
		if !sleepCtx(ctx, retryPause(r.stage.cfg, cycle)) {
			return
		}
		if err := r.state.SetPhase(PhaseCollecting, fmt.Sprintf("retry cycle %d", cycle)); err != nil {
			return
		}
		r.runPass(ctx, outstanding, r.stage.cfg.RetryConcurrency)
	}
}

func (r *listRun) finish(ctx context.Context) (Result, error) {
	summary := r.state.Summarize()
	if r.state.Phase() == PhaseCollecting || r.state.Phase() == PhaseRetrying {
		_ = r.state.SetPhase(PhaseProcessing, fmt.Sprintf(
			"flattening cache: %d/%d pages succeeded after %d retry cycles",
			summary.Success, summary.Total, summary.Cycles))
	}

	result := Result{
		Records:    r.cache.flatten(),
		Summary:    summary,
		FailureLog: r.failureLog(),
	}

	status := "complete"
	var stageErr error
	switch {
	case ctx.Err() != nil:
		stageErr = fmt.Errorf("list stage aborted: %w", ctx.Err())
		status = "failed"
		_ = r.state.SetPhase(PhaseFailed, "run cancelled")
	case summary.Success < summary.Total:
		// Strict by design: downstream index math assumes full coverage.
		stageErr = fmt.Errorf("list stage failed: %d of %d pages unresolved after %d retry cycles",
			summary.Total-summary.Success, summary.Total, summary.Cycles)
		status = "failed"
		_ = r.state.SetPhase(PhaseFailed, stageErr.Error())
	default:
		_ = r.state.SetPhase(PhaseComplete, fmt.Sprintf("%d records collected", len(result.Records)))
	}
	result.Phases = r.state.History()

	r.stage.hub.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(r.runID),
		TS:     r.stage.clock.Now(),
		Stage:  progress.StageList,
		Kind:   progress.KindStageSummary,
		Status: status,
		Counts: progress.Counts{
			Total:      int64(summary.Total),
			Succeeded:  int64(summary.Success),
			Incomplete: int64(summary.Incomplete),
			Failed:     int64(summary.Failed + summary.Waiting),
		},
		Note: fmt.Sprintf("success rate %.2f", summary.SuccessRate()),
	})
	return result, stageErr
}

// runPass fetches the given units through the bounded pool. Units that the
// pool aborts before starting keep their prior status.
func (r *listRun) runPass(ctx context.Context, units []Unit, concurrency int) {
	pool.Run(ctx, units, concurrency, func(ctx context.Context, unit Unit) (struct{}, error) {
		r.processPage(ctx, unit.PageID)
		return struct{}{}, nil
	})
}

func (r *listRun) processPage(ctx context.Context, pageID int) {
	id := unitID(pageID)
	attempt, err := r.state.MarkAttempting(id)
	if err != nil {
		r.stage.logger.Warn("page unit skipped", zap.Int("page_id", pageID), zap.Error(err))
		return
	}

	sitePage, err := r.stage.mapper.ToSitePage(pageID, r.totals.TotalPages)
	if err != nil {
		r.recordFailure(pageID, attempt, catalog.ErrInitialization, err)
		return
	}

	page, err := r.stage.fetcher.FetchListingPage(ctx, sitePage, attempt)
	if err != nil {
		r.recordFailure(pageID, attempt, catalog.KindOf(err), err)
		return
	}

	records, err := r.mapRecords(page, sitePage)
	if err != nil {
		r.recordFailure(pageID, attempt, catalog.ErrExtraction, err)
		return
	}

	merged := r.cache.merge(pageID, records)
	expected, err := r.stage.mapper.ExpectedCount(pageID, r.totals.TotalPages, r.totals.LastPageRecordCount)
	if err != nil {
		r.recordFailure(pageID, attempt, catalog.ErrInitialization, err)
		return
	}

	if merged >= expected {
		_ = r.state.MarkOutcome(id, UnitSuccess, "", "")
		return
	}
	_ = r.state.MarkOutcome(id, UnitIncomplete, "",
		fmt.Sprintf("merged %d of %d records", merged, expected))
}

// mapRecords rewrites scraped slot positions into stable engine coordinates.
func (r *listRun) mapRecords(page catalog.ListingPage, sitePage int) ([]catalog.Record, error) {
	out := make([]catalog.Record, 0, len(page.Records))
	for _, rec := range page.Records {
		pageID, index, err := r.stage.mapper.MapSlot(sitePage, rec.IndexInPage, r.offset, r.totals.TotalPages)
		if err != nil {
			return nil, fmt.Errorf("map slot %d on site page %d: %w", rec.IndexInPage, sitePage, err)
		}
		rec.PageID = pageID
		rec.IndexInPage = index
		out = append(out, rec)
	}
	return out, nil
}

func (r *listRun) recordFailure(pageID, attempt int, kind catalog.ErrorKind, err error) {
	_ = r.state.MarkOutcome(unitID(pageID), UnitFailed, kind, err.Error())
	r.mu.Lock()
	r.faillog[pageID] = append(r.faillog[pageID],
		fmt.Sprintf("attempt %d: %s: %v", attempt, kind, err))
	r.mu.Unlock()
	r.stage.logger.Warn("listing page fetch failed",
		zap.Int("page_id", pageID),
		zap.Int("attempt", attempt),
		zap.String("kind", string(kind)),
		zap.Error(err))
}

func (r *listRun) failureLog() map[int][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int][]string, len(r.faillog))
	for k, v := range r.faillog {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (r *listRun) emitPhase(change PhaseChange) {
	r.stage.hub.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(r.runID),
		TS:     change.At,
		Stage:  progress.StageList,
		Kind:   progress.KindStageTransition,
		Status: string(change.To),
		Note:   change.Reason,
	})
}

func (r *listRun) emitUnit(unit Unit, cycle int) {
	r.stage.hub.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(r.runID),
		TS:      r.stage.clock.Now(),
		Stage:   progress.StageList,
		Kind:    progress.KindUnitStatus,
		PageID:  unit.PageID,
		UnitID:  unit.ID,
		Status:  string(unit.Status),
		Attempt: unit.Attempts,
		Cycle:   cycle,
		Note:    unit.LastError,
	})
}

func unitID(pageID int) string {
	return "page-" + strconv.Itoa(pageID)
}

// sleepCtx pauses for d, returning false if ctx expired first.
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
