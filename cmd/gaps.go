package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/app"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/gap"
)

// newGapsCmd groups the gap maintenance subcommands.
func newGapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "Detect and repair holes in the stored dataset",
	}
	cmd.AddCommand(newGapsDetectCmd())
	cmd.AddCommand(newGapsCollectCmd())
	return cmd
}

func newGapsDetectCmd() *cobra.Command {
	var startPageID, endPageID int

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Compare the store against the site and report missing records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			_, err = detectGaps(cmd.Context(), appInstance, startPageID, endPageID)
			return err
		},
	}

	cmd.Flags().IntVar(&startPageID, "start", -1, "first pageId of the audit window (-1 = newest edge, pageId 0)")
	cmd.Flags().IntVar(&endPageID, "end", -1, "last pageId of the audit window (-1 = oldest known page)")
	return cmd
}

func newGapsCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Detect gaps, then refetch exactly the missing records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return collectGaps(cmd.Context(), appInstance)
		},
	}
	return cmd
}

func detectGaps(ctx context.Context, a *app.App, startPageID, endPageID int) (gap.Report, error) {
	runID := uuid.New()
	logger := a.Logger()

	var report gap.Report
	var err error
	if startPageID >= 0 || endPageID >= 0 {
		report, err = a.Detector().DetectInRange(ctx, runID, startPageID, endPageID)
	} else {
		report, err = a.Detector().Detect(ctx, runID)
	}
	if err != nil {
		return gap.Report{}, fmt.Errorf("detect gaps: %w", err)
	}

	if report.Empty() {
		logger.Info("dataset is complete", zap.String("run_id", runID.String()))
		return report, nil
	}
	logger.Info("gap report",
		zap.String("run_id", runID.String()),
		zap.Int("pages_with_gaps", len(report.Gaps)),
		zap.Int("missing_records", report.TotalMissingRecords),
		zap.Int("crawling_ranges", len(report.Ranges)),
		zap.Bool("totals_from_fallback", report.TotalsFromFallback),
		zap.Duration("estimated_duration", report.Estimate.Duration))
	for _, r := range report.Ranges {
		logger.Info("crawling range",
			zap.Int("start_site_page", r.StartSitePage),
			zap.Int("end_site_page", r.EndSitePage),
			zap.Int("priority", r.Priority),
			zap.Ints("missing_page_ids", r.ContainedMissingPageIDs),
			zap.Int("estimated_records", r.EstimatedRecords))
	}
	return report, nil
}

func collectGaps(ctx context.Context, a *app.App) error {
	report, err := detectGaps(ctx, a, -1, -1)
	if err != nil {
		return err
	}
	if report.Empty() {
		return nil
	}

	runID := uuid.New()
	result, err := a.Collector().Collect(ctx, runID, report, a.GapOptions())
	a.Logger().Info("gap collection finished",
		zap.String("run_id", runID.String()),
		zap.Int("collected", result.Collected),
		zap.Int("failed_pages", result.Failed),
		zap.Int("skipped_pages", result.Skipped))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("collect gaps: %w", err)
	}
	return nil
}
