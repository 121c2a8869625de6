package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one crawl run in the run log.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunLog records crawl run history alongside the records table, so operators
// can correlate stored data with the run that produced it.
type RunLog struct {
	pool querier
}

// RunLog returns a run history logger sharing this store's pool.
func (s *Store) RunLog() *RunLog {
	return &RunLog{pool: s.pool}
}

// NewRunLog wraps an existing pool; the Store and the RunLog share one.
func NewRunLog(pool querier) (*RunLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunLog{pool: pool}, nil
}

// StartRun inserts a running row for the run. Restarting the same run id
// resets it to running.
func (l *RunLog) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at,
		    status = EXCLUDED.status,
		    finished_at = NULL,
		    error_message = NULL;
	`
	if _, err := l.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun closes out a run with its final status and save counts.
func (l *RunLog) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status RunStatus,
	recordsSaved int,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, records_saved = $3, error_message = $4
		WHERE id = $5;
	`
	if _, err := l.pool.Exec(ctx, query, finishedAt, status, recordsSaved, errMsg, runID); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}
