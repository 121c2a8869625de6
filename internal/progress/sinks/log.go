// Package sinks provides progress.Sink implementations for logs, metrics,
// and in-memory capture.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful during
// development or audits where no durable consumer is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", string(evt.Kind)),
			zap.Int("page_id", evt.PageID),
			zap.String("unit_id", evt.UnitID),
			zap.String("status", evt.Status),
			zap.Int("attempt", evt.Attempt),
			zap.Int("cycle", evt.Cycle),
			zap.Int64("succeeded", evt.Counts.Succeeded),
			zap.Int64("failed", evt.Counts.Failed),
			zap.Int64("missing", evt.Counts.Missing),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
