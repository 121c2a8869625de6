package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress/sinks"
)

type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

func seedSink(t *testing.T, runID uuid.UUID, n int, stage progress.Stage) *sinks.MemorySink {
	t.Helper()
	sink := sinks.NewMemorySink()
	batch := make([]progress.Event, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, progress.Event{
			RunID:  progress.UUIDToBytes(runID),
			TS:     time.Unix(int64(100+i), 0).UTC(),
			Stage:  stage,
			Kind:   progress.KindUnitStatus,
			PageID: i,
			UnitID: "page",
			Status: "success",
		})
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	return sink
}

func TestListEventsReturnsRecentEvents(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	ts := newTestServer(t, seedSink(t, runID, 5, progress.StageList))

	var resp eventsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/progress", &resp))
	require.Len(t, resp.Events, 5)
	require.Equal(t, runID.String(), resp.Events[0].RunID)
}

func TestListEventsHonorsLimitKeepingNewest(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, seedSink(t, uuid.New(), 5, progress.StageList))

	var resp eventsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/progress?limit=2", &resp))
	require.Len(t, resp.Events, 2)
	require.Equal(t, 3, resp.Events[0].PageID)
	require.Equal(t, 4, resp.Events[1].PageID)
}

func TestListEventsFiltersByStage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, seedSink(t, uuid.New(), 3, progress.StageDetail))

	var resp eventsResponse
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/progress?stage=detail", &resp))
	require.Len(t, resp.Events, 3)

	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/progress?stage=list", &resp))
	require.Empty(t, resp.Events)
}

func TestListEventsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, seedSink(t, uuid.New(), 1, progress.StageList))
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/progress?limit=zero", nil))
}

func TestListRunEventsScopesToRun(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	sink := seedSink(t, runID, 2, progress.StageList)
	ts := newTestServer(t, sink)

	var resp eventsResponse
	require.Equal(t, http.StatusOK,
		getJSON(t, ts.URL+"/v1/runs/"+runID.String()+"/progress", &resp))
	require.Len(t, resp.Events, 2)

	require.Equal(t, http.StatusNotFound,
		getJSON(t, ts.URL+"/v1/runs/"+uuid.NewString()+"/progress", nil))
	require.Equal(t, http.StatusBadRequest,
		getJSON(t, ts.URL+"/v1/runs/not-a-uuid/progress", nil))
}

func TestProgressUnavailableWithoutSource(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/v1/progress", nil))
}
