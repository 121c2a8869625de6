package sinks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

func sampleEvent(kind progress.Kind, status string) progress.Event {
	return progress.Event{
		RunID:  progress.UUIDToBytes(uuid.MustParse("99999999-8888-7777-6666-555555555555")),
		TS:     time.Unix(42, 0).UTC(),
		Stage:  progress.StageList,
		Kind:   kind,
		PageID: 2,
		UnitID: "page-2",
		Status: status,
		Cycle:  1,
	}
}

func TestLogSink_Consume(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	batch := []progress.Event{
		sampleEvent(progress.KindUnitStatus, "success"),
		sampleEvent(progress.KindStageSummary, "complete"),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "progress event", entries[0].Message)
}

func TestLogSink_NilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{sampleEvent(progress.KindUnitStatus, "failed")}))
}

func TestPrometheusSink_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	gap := sampleEvent(progress.KindGapReport, "")
	gap.Stage = progress.StageGapDetect
	gap.Counts.Missing = 17

	batch := []progress.Event{
		sampleEvent(progress.KindUnitStatus, "success"),
		sampleEvent(progress.KindUnitStatus, "success"),
		sampleEvent(progress.KindUnitStatus, "failed"),
		sampleEvent(progress.KindRetryCycle, ""),
		sampleEvent(progress.KindStageSummary, "complete"),
		gap,
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	expected := strings.NewReader(`
# HELP crawl_unit_status_total Unit status transitions partitioned by stage and status.
# TYPE crawl_unit_status_total counter
crawl_unit_status_total{stage="LIST",status="failed"} 1
crawl_unit_status_total{stage="LIST",status="success"} 2
`)
	require.NoError(t, testutil.GatherAndCompare(reg, expected, "crawl_unit_status_total"))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.retryCycles.WithLabelValues("LIST")))
	require.Equal(t, float64(17), testutil.ToFloat64(sink.missingSlots.WithLabelValues("GAP_DETECT")))
}

func TestPrometheusSink_DoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestMemorySink_CapturesInOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	first := sampleEvent(progress.KindUnitStatus, "attempting")
	second := sampleEvent(progress.KindUnitStatus, "success")

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{first}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{second}))

	got := sink.Events()
	require.Len(t, got, 2)
	require.Equal(t, "attempting", got[0].Status)
	require.Equal(t, "success", got[1].Status)

	require.False(t, sink.Closed())
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, sink.Closed())
}
