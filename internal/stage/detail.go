package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/pool"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// DetailStage applies the list stage's unit/retry pattern per discovered
// record instead of per page: one unit per record, bounded fetches, retry
// cycles over only the outstanding records, and the same strict policy.
type DetailStage struct {
	fetcher catalog.Fetcher
	hub     *progress.Hub
	logger  *zap.Logger
	clock   catalog.Clock
	cfg     Config
}

// NewDetailStage builds a detail-collection stage.
func NewDetailStage(
	fetcher catalog.Fetcher,
	hub *progress.Hub,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *DetailStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailStage{
		fetcher: fetcher,
		hub:     hub,
		logger:  logger,
		clock:   clock,
		cfg:     cfg.withDefaults(),
	}
}

type detailRun struct {
	stage   *DetailStage
	state   *State
	runID   uuid.UUID
	mu      sync.Mutex
	results map[string]catalog.Record
	inputs  map[string]catalog.Record
}

// Collect enriches every record with its detail payload. Records whose
// detail fetch never succeeds keep their listing-level data in the result;
// the returned error reports them under the strict policy.
func (s *DetailStage) Collect(ctx context.Context, runID uuid.UUID, records []catalog.Record) (Result, error) {
	if len(records) == 0 {
		return Result{}, nil
	}

	run := &detailRun{
		stage:   s,
		runID:   runID,
		results: make(map[string]catalog.Record, len(records)),
		inputs:  make(map[string]catalog.Record, len(records)),
	}
	run.state = NewState(s.clock, run.emitPhase, run.emitUnit)

	units := make([]Unit, 0, len(records))
	for _, rec := range records {
		if _, dup := run.inputs[rec.URL]; dup {
			continue
		}
		run.inputs[rec.URL] = rec
		units = append(units, Unit{ID: rec.URL, PageID: rec.PageID})
	}
	if err := run.state.InitUnits(units); err != nil {
		return Result{}, fmt.Errorf("detail stage: %w", err)
	}

	if err := run.state.SetPhase(PhaseCollecting, fmt.Sprintf("collecting %d record details", len(units))); err != nil {
		return Result{}, fmt.Errorf("detail stage: %w", err)
	}
	run.runPass(ctx, run.state.Units(), s.cfg.InitialConcurrency)
	run.retryLoop(ctx)

	return run.finish(ctx)
}

func (r *detailRun) runPass(ctx context.Context, units []Unit, concurrency int) {
	pool.Run(ctx, units, concurrency, func(ctx context.Context, unit Unit) (struct{}, error) {
		r.processRecord(ctx, unit.ID)
		return struct{}{}, nil
	})
}

func (r *detailRun) retryLoop(ctx context.Context) {
	for {
		outstanding := r.state.Outstanding()
		if len(outstanding) == 0 || r.state.Cycle() >= r.stage.cfg.RetryLimit || ctx.Err() != nil {
			return
		}
		if err := r.state.SetPhase(PhaseRetrying, fmt.Sprintf("%d records outstanding", len(outstanding))); err != nil {
			return
		}
		cycle := r.state.BeginRetryCycle()
		r.stage.hub.Emit(progress.Event{
			RunID: progress.UUIDToBytes(r.runID),
			TS:    r.stage.clock.Now(),
			Stage: progress.StageDetail,
			Kind:  progress.KindRetryCycle,
			Cycle: cycle,
			Note:  fmt.Sprintf("%d records outstanding", len(outstanding)),
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

func (r *detailRun) processRecord(ctx context.Context, url string) {
	attempt, err := r.state.MarkAttempting(url)
	if err != nil {
		r.stage.logger.Warn("record unit skipped", zap.String("url", url), zap.Error(err))
		return
	}

	r.mu.Lock()
	input := r.inputs[url]
	r.mu.Unlock()

	enriched, err := r.stage.fetcher.FetchRecordDetail(ctx, input, attempt)
	if err != nil {
		_ = r.state.MarkOutcome(url, UnitFailed, catalog.KindOf(err), err.Error())
		r.stage.logger.Warn("record detail fetch failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("kind", string(catalog.KindOf(err))),
			zap.Error(err))
		return
	}

	// Positioning is owned by the list stage; the detail fetch only adds.
	enriched.URL = input.URL
	enriched.PageID = input.PageID
	enriched.IndexInPage = input.IndexInPage

	r.mu.Lock()
	r.results[url] = enriched
	r.mu.Unlock()
	_ = r.state.MarkOutcome(url, UnitSuccess, "", "")
}

func (r *detailRun) finish(ctx context.Context) (Result, error) {
	summary := r.state.Summarize()
	if r.state.Phase() == PhaseCollecting || r.state.Phase() == PhaseRetrying {
		_ = r.state.SetPhase(PhaseProcessing, fmt.Sprintf(
			"%d/%d record details fetched after %d retry cycles",
			summary.Success, summary.Total, summary.Cycles))
	}

	result := Result{Summary: summary}
	for _, unit := range r.state.Units() {
		if rec, ok := r.results[unit.ID]; ok {
			result.Records = append(result.Records, rec)
		} else {
			result.Records = append(result.Records, r.inputs[unit.ID])
		}
	}

	status := "complete"
	var stageErr error
	switch {
	case ctx.Err() != nil:
		stageErr = fmt.Errorf("detail stage aborted: %w", ctx.Err())
		status = "failed"
		_ = r.state.SetPhase(PhaseFailed, "run cancelled")
	case summary.Success < summary.Total:
		stageErr = fmt.Errorf("detail stage failed: %d of %d records unresolved after %d retry cycles",
			summary.Total-summary.Success, summary.Total, summary.Cycles)
		status = "failed"
		_ = r.state.SetPhase(PhaseFailed, stageErr.Error())
	default:
		_ = r.state.SetPhase(PhaseComplete, fmt.Sprintf("%d records enriched", summary.Success))
	}
	result.Phases = r.state.History()

	r.stage.hub.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(r.runID),
		TS:     r.stage.clock.Now(),
		Stage:  progress.StageDetail,
		Kind:   progress.KindStageSummary,
		Status: status,
		Counts: progress.Counts{
			Total:     int64(summary.Total),
			Succeeded: int64(summary.Success),
			Failed:    int64(summary.Failed + summary.Waiting),
		},
		Note: fmt.Sprintf("success rate %.2f", summary.SuccessRate()),
	})
	return result, stageErr
}

func (r *detailRun) emitPhase(change PhaseChange) {
	r.stage.hub.Emit(progress.Event{
		RunID:  progress.UUIDToBytes(r.runID),
		TS:     change.At,
		Stage:  progress.StageDetail,
		Kind:   progress.KindStageTransition,
		Status: string(change.To),
		Note:   change.Reason,
	})
}

func (r *detailRun) emitUnit(unit Unit, cycle int) {
	r.stage.hub.Emit(progress.Event{
		RunID:   progress.UUIDToBytes(r.runID),
		TS:      r.stage.clock.Now(),
		Stage:   progress.StageDetail,
		Kind:    progress.KindUnitStatus,
		PageID:  unit.PageID,
		UnitID:  unit.ID,
		Status:  string(unit.Status),
		Attempt: unit.Attempts,
		Cycle:   cycle,
		Note:    unit.LastError,
	})
}
