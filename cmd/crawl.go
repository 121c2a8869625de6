// Package cmd defines and implements the CLI commands for the catalogcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/app"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/engine"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/storage/postgres"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It runs one
// full list-then-detail collection pass over the catalog.
func newCrawlCmd() *cobra.Command {
	var pageLimit int
	var alreadyCollected int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one collection pass over the catalog",
		Long: `Fetches the catalog's newest pages, enriches every discovered record
with its detail payload, and persists the batch. Partial results are saved
even when the run fails or is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// The flag wins; the configured limit fills in when it is absent.
			if !cmd.Flags().Changed("page-limit") {
				pageLimit = appInstance.Config().Crawl.PageLimit
			}
			return runCrawl(cmd.Context(), appInstance, engine.RunOptions{
				PageLimit:        pageLimit,
				AlreadyCollected: alreadyCollected,
			})
		},
	}

	cmd.Flags().IntVar(&pageLimit, "page-limit", 0, "cap on how many of the newest pages to collect (0 = configured limit, else all)")
	cmd.Flags().IntVar(&alreadyCollected, "already-collected", 0, "number of pages a previous run is known to have covered")
	return cmd
}

func runCrawl(ctx context.Context, a *app.App, opts engine.RunOptions) error {
	logger := a.Logger()
	a.StartAPI()

	report, runErr := a.Engine().Run(ctx, opts)
	logRunOutcome(ctx, a, report, runErr)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("crawl run: %w", runErr)
	}
	logger.Info("crawl command finished")
	return nil
}

// logRunOutcome records the run in the database when one is configured and
// always logs the headline numbers.
func logRunOutcome(ctx context.Context, a *app.App, report engine.RunReport, runErr error) {
	logger := a.Logger()
	logger.Info("crawl run finished",
		zap.String("run_id", report.RunID.String()),
		zap.Int("pages_total", report.List.Summary.Total),
		zap.Int("pages_succeeded", report.List.Summary.Success),
		zap.Int("records", len(report.Detail.Records)),
		zap.Int("saved_added", report.Saved.Added),
		zap.Int("saved_updated", report.Saved.Updated),
		zap.Int("saved_unchanged", report.Saved.Unchanged),
		zap.Error(runErr))

	runLog := a.RunLog()
	if runLog == nil {
		return
	}
	// The run is already over; recording history gets its own context.
	logCtx := context.WithoutCancel(ctx)
	if err := runLog.StartRun(logCtx, report.RunID, report.Started); err != nil {
		logger.Warn("run history start failed", zap.Error(err))
		return
	}
	status := postgres.RunCompleted
	var errMsg *string
	if runErr != nil {
		status = postgres.RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	saved := report.Saved.Added + report.Saved.Updated
	if err := runLog.FinishRun(logCtx, report.RunID, report.Finished, status, saved, errMsg); err != nil {
		logger.Warn("run history finish failed", zap.Error(err))
	}
}
