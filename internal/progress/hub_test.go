package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Event
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func validEvent(unit string) Event {
	return Event{
		RunID:  UUIDToBytes(uuid.MustParse("11111111-2222-3333-4444-555555555555")),
		TS:     time.Unix(100, 0).UTC(),
		Stage:  StageList,
		Kind:   KindUnitStatus,
		PageID: 3,
		UnitID: unit,
		Status: "success",
	}
}

func TestHub_FlushBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer hub.Close(context.Background()) //nolint:errcheck // best-effort shutdown

	hub.Emit(validEvent("a"))
	hub.Emit(validEvent("b"))

	require.Eventually(t, func() bool {
		return len(sink.events()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHub_FlushByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer hub.Close(context.Background()) //nolint:errcheck

	hub.Emit(validEvent("solo"))

	require.Eventually(t, func() bool {
		return len(sink.events()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHub_PreservesEmissionOrder(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 7, MaxBatchWait: 10 * time.Millisecond}, sink)

	units := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	for _, u := range units {
		hub.Emit(validEvent(u))
	}
	require.NoError(t, hub.Close(context.Background()))

	got := sink.events()
	require.Len(t, got, len(units))
	for i, u := range units {
		require.Equal(t, u, got[i].UnitID)
	}
}

func TestHub_CloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: time.Minute}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent("pending"))
	}
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.events(), 10)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.True(t, sink.closed)
}

func TestHub_DropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{}) // missing run id, timestamp, kind
	evt := validEvent("ok")
	evt.Kind = "BOGUS"
	hub.Emit(evt)
	hub.Emit(validEvent("ok"))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.events(), 1)
}

func TestHub_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(validEvent("noop"))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEvent_Validate(t *testing.T) {
	t.Parallel()

	base := validEvent("u")

	missingUnit := base
	missingUnit.UnitID = ""
	require.Error(t, missingUnit.Validate())

	transition := base
	transition.Kind = KindStageTransition
	transition.UnitID = ""
	transition.Status = "collecting"
	require.NoError(t, transition.Validate())

	transition.Status = ""
	require.Error(t, transition.Validate())

	cycle := base
	cycle.Kind = KindRetryCycle
	cycle.Cycle = 0
	require.Error(t, cycle.Validate())
	cycle.Cycle = 1
	require.NoError(t, cycle.Validate())

	badStage := base
	badStage.Stage = "NOPE"
	require.Error(t, badStage.Validate())
}
