// Package progress defines the event structures emitted by the crawl stages
// and the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies which pipeline phase emitted an event.
type Stage string

// Pipeline stages that emit progress.
const (
	StageList       Stage = "LIST"
	StageDetail     Stage = "DETAIL"
	StageGapDetect  Stage = "GAP_DETECT"
	StageGapCollect Stage = "GAP_COLLECT"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindStageTransition Kind = "STAGE_TRANSITION"
	KindUnitStatus      Kind = "UNIT_STATUS"
	KindRetryCycle      Kind = "RETRY_CYCLE"
	KindStageSummary    Kind = "STAGE_SUMMARY"
	KindGapReport       Kind = "GAP_REPORT"
	KindGapCollection   Kind = "GAP_COLLECTION"
)

// Counts carries the aggregate numbers attached to summaries.
type Counts struct {
	Total      int64 `json:"total"`
	Succeeded  int64 `json:"succeeded"`
	Incomplete int64 `json:"incomplete"`
	Failed     int64 `json:"failed"`
	Missing    int64 `json:"missing"`
}

// Event captures a single progress milestone. Events are ordered per run by
// the emitting goroutine and fanned out to sinks in that order.
type Event struct {
	// RunID identifies one top-level engine run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which pipeline phase emitted the event.
	Stage Stage
	// Kind denotes the milestone type.
	Kind Kind
	// PageID scopes unit events to a page; -1 when not applicable.
	PageID int
	// UnitID names the unit for UNIT_STATUS events.
	UnitID string
	// Status carries the unit status or the target phase of a transition.
	Status string
	// Attempt is the 1-based attempt number for unit events.
	Attempt int
	// Cycle is the retry cycle counter for retry events.
	Cycle int
	// Counts holds aggregate numbers for summary events.
	Counts Counts
	// Note attaches low-volume human-readable context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStageTransition:
		if e.Status == "" {
			return errors.New("stage transition requires a status")
		}
	case KindUnitStatus:
		if e.UnitID == "" {
			return errors.New("unit status requires a unit id")
		}
		if e.Status == "" {
			return errors.New("unit status requires a status")
		}
	case KindRetryCycle:
		if e.Cycle < 1 {
			return errors.New("retry cycle must be >= 1")
		}
	case KindStageSummary, KindGapReport, KindGapCollection:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	switch e.Stage {
	case StageList, StageDetail, StageGapDetect, StageGapCollect:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for consumers.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
