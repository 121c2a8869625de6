// Package stage implements the two sequential collection stages and the
// per-stage state machine that tracks unit progress and retry cycles.
package stage

import (
	"fmt"
	"sync"
	"time"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

// Phase is the lifecycle state of one collection stage.
type Phase string

// Stage phases.
const (
	PhaseInit       Phase = "init"
	PhaseCollecting Phase = "collecting"
	PhaseRetrying   Phase = "retrying"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// UnitStatus is the per-unit progress marker. A unit only ever moves
// waiting -> attempting -> {success|incomplete|failed}; a new retry cycle is
// the sole way back to attempting.
type UnitStatus string

// Unit statuses.
const (
	UnitWaiting    UnitStatus = "waiting"
	UnitAttempting UnitStatus = "attempting"
	UnitSuccess    UnitStatus = "success"
	UnitIncomplete UnitStatus = "incomplete"
	UnitFailed     UnitStatus = "failed"
)

var legalPhases = map[Phase][]Phase{
	PhaseInit:       {PhaseCollecting, PhaseFailed},
	PhaseCollecting: {PhaseRetrying, PhaseProcessing, PhaseFailed},
	PhaseRetrying:   {PhaseCollecting, PhaseProcessing, PhaseFailed},
	PhaseProcessing: {PhaseComplete, PhaseFailed},
	PhaseComplete:   {},
	PhaseFailed:     {},
}

// Unit is the status record of one work item (a page or a record).
type Unit struct {
	ID        string
	PageID    int
	Status    UnitStatus
	Attempts  int
	LastKind  catalog.ErrorKind
	LastError string
}

// Summary aggregates unit counts at a point in time.
type Summary struct {
	Total      int
	Waiting    int
	Attempting int
	Success    int
	Incomplete int
	Failed     int
	Cycles     int
}

// SuccessRate is successful units over attempted units, 0 when nothing ran.
func (s Summary) SuccessRate() float64 {
	attempted := s.Total - s.Waiting
	if attempted <= 0 {
		return 0
	}
	return float64(s.Success) / float64(attempted)
}

// PhaseChange describes one stage transition, always with a reason.
type PhaseChange struct {
	From   Phase
	To     Phase
	Reason string
	At     time.Time
}

// State holds the per-stage status table. All mutation goes through its
// methods; callbacks fire inside the lock in mutation order so observers see
// a consistent sequence.
type State struct {
	mu      sync.Mutex
	phase   Phase
	units   map[string]*Unit
	order   []string
	cycle   int
	clock   catalog.Clock
	started time.Time
	history []PhaseChange

	onPhase func(PhaseChange)
	onUnit  func(Unit, int)
}

// NewState builds a State in the init phase. onPhase and onUnit may be nil.
func NewState(clock catalog.Clock, onPhase func(PhaseChange), onUnit func(unit Unit, cycle int)) *State {
	return &State{
		phase:   PhaseInit,
		units:   make(map[string]*Unit),
		clock:   clock,
		onPhase: onPhase,
		onUnit:  onUnit,
	}
}

// InitUnits registers one waiting unit per id. Only legal during init.
func (s *State) InitUnits(units []Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInit {
		return fmt.Errorf("units can only be initialized during %s, current phase %s", PhaseInit, s.phase)
	}
	for _, u := range units {
		if _, dup := s.units[u.ID]; dup {
			return fmt.Errorf("duplicate unit %q", u.ID)
		}
		unit := u
		unit.Status = UnitWaiting
		unit.Attempts = 0
		s.units[u.ID] = &unit
		s.order = append(s.order, u.ID)
	}
	return nil
}

// SetPhase transitions the stage, enforcing legal moves. reason is mandatory:
// every transition must be explicable after the fact.
func (s *State) SetPhase(to Phase, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		return fmt.Errorf("phase transition to %s requires a reason", to)
	}
	if to == PhaseFailed {
		if s.phase == PhaseComplete || s.phase == PhaseFailed {
			return fmt.Errorf("cannot fail a stage already in terminal phase %s", s.phase)
		}
	} else if !contains(legalPhases[s.phase], to) {
		return fmt.Errorf("illegal phase transition %s -> %s (%s)", s.phase, to, reason)
	}
	change := PhaseChange{From: s.phase, To: to, Reason: reason, At: s.clock.Now()}
	if s.phase == PhaseInit && to == PhaseCollecting {
		s.started = change.At
	}
	s.phase = to
	s.history = append(s.history, change)
	if s.onPhase != nil {
		s.onPhase(change)
	}
	return nil
}

// MarkAttempting moves a unit to attempting and returns its 1-based attempt
// number. Re-attempts are only legal during a retry cycle.
func (s *State) MarkAttempting(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[id]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", id)
	}
	switch unit.Status {
	case UnitWaiting:
	case UnitIncomplete, UnitFailed:
		if s.cycle == 0 {
			return 0, fmt.Errorf("unit %q can only re-attempt inside a retry cycle", id)
		}
	default:
		return 0, fmt.Errorf("unit %q cannot attempt from status %s", id, unit.Status)
	}
	unit.Status = UnitAttempting
	unit.Attempts++
	s.notifyUnitLocked(unit)
	return unit.Attempts, nil
}

// MarkOutcome records a unit's terminal status for this cycle.
func (s *State) MarkOutcome(id string, status UnitStatus, kind catalog.ErrorKind, errText string) error {
	if status != UnitSuccess && status != UnitIncomplete && status != UnitFailed {
		return fmt.Errorf("status %s is not a unit outcome", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[id]
	if !ok {
		return fmt.Errorf("unknown unit %q", id)
	}
	if unit.Status != UnitAttempting {
		return fmt.Errorf("unit %q outcome requires status %s, got %s", id, UnitAttempting, unit.Status)
	}
	unit.Status = status
	unit.LastKind = kind
	unit.LastError = errText
	s.notifyUnitLocked(unit)
	return nil
}

// BeginRetryCycle increments the retry-cycle counter and returns its 1-based
// number. Outstanding units become eligible to re-attempt.
func (s *State) BeginRetryCycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++
	return s.cycle
}

// Outstanding lists non-success units in registration order.
func (s *State) Outstanding() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Unit
	for _, id := range s.order {
		if u := s.units[id]; u.Status != UnitSuccess {
			out = append(out, *u)
		}
	}
	return out
}

// Unit returns a snapshot of one unit.
func (s *State) Unit(id string) (Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// Units returns snapshots of all units in registration order.
func (s *State) Units() []Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Unit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.units[id])
	}
	return out
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Cycle returns the current retry-cycle counter.
func (s *State) Cycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// StartedAt returns when the stage left init, zero if it has not.
func (s *State) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// History returns the recorded phase transitions in order.
func (s *State) History() []PhaseChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PhaseChange(nil), s.history...)
}

// Summarize folds unit statuses into counts.
func (s *State) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Total: len(s.order), Cycles: s.cycle}
	for _, u := range s.units {
		switch u.Status {
		case UnitWaiting:
			sum.Waiting++
		case UnitAttempting:
			sum.Attempting++
		case UnitSuccess:
			sum.Success++
		case UnitIncomplete:
			sum.Incomplete++
		case UnitFailed:
			sum.Failed++
		}
	}
	return sum
}

func (s *State) notifyUnitLocked(u *Unit) {
	if s.onUnit != nil {
		s.onUnit(*u, s.cycle)
	}
}

func contains(phases []Phase, p Phase) bool {
	for _, candidate := range phases {
		if candidate == p {
			return true
		}
	}
	return false
}
