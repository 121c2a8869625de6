package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus metrics. It owns the
// collectors for unit outcomes, retry cycles, and gap summaries.
type PrometheusSink struct {
	unitOutcomes *prometheus.CounterVec
	retryCycles  *prometheus.CounterVec
	stageResults *prometheus.CounterVec
	missingSlots *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		unitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_unit_status_total",
			Help: "Unit status transitions partitioned by stage and status.",
		}, []string{"stage", "status"}),
		retryCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_retry_cycles_total",
			Help: "Retry cycles started per stage.",
		}, []string{"stage"}),
		stageResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_stage_summaries_total",
			Help: "Stage completion summaries partitioned by stage and status.",
		}, []string{"stage", "status"}),
		missingSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawl_missing_records",
			Help: "Missing records reported by the most recent gap detection.",
		}, []string{"stage"}),
	}
	for _, collector := range []prometheus.Collector{
		s.unitOutcomes,
		s.retryCycles,
		s.stageResults,
		s.missingSlots,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		stage := string(evt.Stage)
		switch evt.Kind {
		case progress.KindUnitStatus:
			s.unitOutcomes.WithLabelValues(stage, evt.Status).Inc()
		case progress.KindRetryCycle:
			s.retryCycles.WithLabelValues(stage).Inc()
		case progress.KindStageSummary, progress.KindGapCollection:
			s.stageResults.WithLabelValues(stage, evt.Status).Inc()
		case progress.KindGapReport:
			s.missingSlots.WithLabelValues(stage).Set(float64(evt.Counts.Missing))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
