// Package engine owns a crawl session: the TTL-cached site totals snapshot
// and the sequential list -> detail pipeline with one shared cancellation
// context per run.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/stage"
)

// DefaultTotalsTTL is how long a totals snapshot stays fresh.
const DefaultTotalsTTL = 10 * time.Minute

// Config tunes a session.
type Config struct {
	// TotalsTTL bounds snapshot reuse; 0 means DefaultTotalsTTL.
	TotalsTTL time.Duration
	// List configures the list-collection stage.
	List stage.Config
	// Detail configures the detail-collection stage.
	Detail stage.Config
	// SkipDetails collects listing data only.
	SkipDetails bool
	// SummaryTopic is where run summaries are published; empty disables
	// publishing.
	SummaryTopic string
}

func (c Config) withDefaults() Config {
	if c.TotalsTTL <= 0 {
		c.TotalsTTL = DefaultTotalsTTL
	}
	return c
}

// RunOptions parameterizes one Run.
type RunOptions struct {
	// PageLimit caps how many of the newest pages are collected; 0 means
	// unlimited.
	PageLimit int
	// AlreadyCollected is the externally-known number of pages a previous
	// run covered, narrowing this run to the incremental delta.
	AlreadyCollected int
}

// RunReport is the outcome of one full run. It is returned alongside a
// non-nil error on partial failure so callers always see what was saved.
type RunReport struct {
	RunID    uuid.UUID
	Started  time.Time
	Finished time.Time
	Totals   catalog.SiteTotals
	List     stage.Result
	Detail   stage.Result
	Saved    catalog.SaveOutcome
}

// Engine drives the collection pipeline. One Engine represents one session
// against one site; it is safe for concurrent use, though runs over
// overlapping ranges are the caller's responsibility to avoid.
type Engine struct {
	fetcher   catalog.Fetcher
	store     catalog.Store
	mapper    *catalog.PageIndexMapper
	hub       *progress.Hub
	publisher catalog.Publisher
	logger    *zap.Logger
	clock     catalog.Clock
	cfg       Config

	list   *stage.ListStage
	detail *stage.DetailStage

	// Totals snapshot cache. Refreshes race on purpose: last writer wins,
	// both writers hold an equally fresh snapshot.
	mu       sync.Mutex
	totals   catalog.SiteTotals
	totalsAt time.Time
}

// New builds an Engine. publisher may be nil.
func New(
	fetcher catalog.Fetcher,
	store catalog.Store,
	mapper *catalog.PageIndexMapper,
	hub *progress.Hub,
	publisher catalog.Publisher,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		fetcher:   fetcher,
		store:     store,
		mapper:    mapper,
		hub:       hub,
		publisher: publisher,
		logger:    logger,
		clock:     clock,
		cfg:       cfg,
		list:      stage.NewListStage(fetcher, mapper, hub, clock, cfg.List, logger),
		detail:    stage.NewDetailStage(fetcher, hub, clock, cfg.Detail, logger),
	}
}

// Totals returns the cached snapshot, refreshing it when stale. A refresh
// failure while a stale snapshot exists is still an error: totals gate the
// whole range computation.
func (e *Engine) Totals(ctx context.Context) (catalog.SiteTotals, error) {
	e.mu.Lock()
	if !e.totalsAt.IsZero() && e.clock.Now().Sub(e.totalsAt) < e.cfg.TotalsTTL {
		totals := e.totals
		e.mu.Unlock()
		return totals, nil
	}
	e.mu.Unlock()

	totals, err := e.fetcher.FetchSiteTotals(ctx)
	if err != nil {
		return catalog.SiteTotals{}, catalog.NewInitError("site totals unavailable", err)
	}
	if totals.TotalPages <= 0 || totals.LastPageRecordCount <= 0 {
		return catalog.SiteTotals{}, catalog.NewInitError(
			fmt.Sprintf("implausible site totals: %d pages, %d records on last page",
				totals.TotalPages, totals.LastPageRecordCount), nil)
	}
	totals.FetchedAt = e.clock.Now()

	e.mu.Lock()
	e.totals = totals
	e.totalsAt = totals.FetchedAt
	e.mu.Unlock()

	e.logger.Info("site totals refreshed",
		zap.Int("total_pages", totals.TotalPages),
		zap.Int("last_page_records", totals.LastPageRecordCount))
	return totals, nil
}

// InvalidateTotals forces the next Totals call to refetch.
func (e *Engine) InvalidateTotals() {
	e.mu.Lock()
	e.totalsAt = time.Time{}
	e.mu.Unlock()
}

// Run executes list collection, then detail collection once list retries are
// exhausted, then persists the haul. Partial results are saved and reported
// even when a stage failed.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	report := RunReport{RunID: uuid.New(), Started: e.clock.Now()}
	log := e.logger.With(zap.String("run_id", report.RunID.String()))

	totals, err := e.Totals(ctx)
	if err != nil {
		report.Finished = e.clock.Now()
		return report, fmt.Errorf("run %s: %w", report.RunID, err)
	}
	report.Totals = totals
	log.Info("run started",
		zap.Int("total_pages", totals.TotalPages),
		zap.Int("page_limit", opts.PageLimit),
		zap.Int("already_collected", opts.AlreadyCollected))

	listResult, listErr := e.list.Collect(ctx, report.RunID, totals, opts.PageLimit, opts.AlreadyCollected)
	report.List = listResult

	records := listResult.Records
	var detailErr error
	// Details run only over a fully-covered range; a failed list stage still
	// persists whatever it gathered, but enrichment waits for a clean run.
	if listErr == nil && !e.cfg.SkipDetails && len(records) > 0 && ctx.Err() == nil {
		report.Detail, detailErr = e.detail.Collect(ctx, report.RunID, records)
		if len(report.Detail.Records) > 0 {
			records = report.Detail.Records
		}
	}

	var saveErr error
	if len(records) > 0 {
		// A cancelled run still flushes everything gathered so far; the save
		// must outlive the run context or the partial haul is lost.
		report.Saved, saveErr = e.store.Save(context.WithoutCancel(ctx), records)
		if saveErr != nil {
			log.Error("persisting run results failed", zap.Error(saveErr))
		}
	}
	report.Finished = e.clock.Now()

	runErr := firstErr(listErr, detailErr, saveErr)
	e.publishSummary(ctx, report, runErr)
	log.Info("run finished",
		zap.Int("records", len(records)),
		zap.Int("added", report.Saved.Added),
		zap.Int("updated", report.Saved.Updated),
		zap.Duration("took", report.Finished.Sub(report.Started)),
		zap.Bool("failed", runErr != nil))
	if runErr != nil {
		return report, fmt.Errorf("run %s: %w", report.RunID, runErr)
	}
	return report, nil
}

func (e *Engine) publishSummary(ctx context.Context, report RunReport, runErr error) {
	if e.publisher == nil || e.cfg.SummaryTopic == "" {
		return
	}
	payload := map[string]any{
		"run_id":       report.RunID.String(),
		"started_at":   report.Started,
		"finished_at":  report.Finished,
		"total_pages":  report.Totals.TotalPages,
		"list_success": report.List.Summary.Success,
		"list_total":   report.List.Summary.Total,
		"records":      len(report.List.Records),
		"added":        report.Saved.Added,
		"updated":      report.Saved.Updated,
		"ok":           runErr == nil,
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	// Fire and forget: a missing summary never fails the run.
	if err := e.publisher.Publish(ctx, e.cfg.SummaryTopic, payload); err != nil {
		e.logger.Warn("run summary publish failed", zap.Error(err))
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
