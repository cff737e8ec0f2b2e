package board

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// BoardInfo accumulates everything learned about one board during a
// cycle: scanned identity, what the programmer reported, captures from
// the provisioning and test scripts, and per-phase logs and timings.
type BoardInfo struct {
	// Identifier is the serial number decoded from the QR payload.
	Identifier string `json:"identifier,omitempty"`

	// RawPayload is the full QR payload as scanned.
	RawPayload string `json:"raw_payload,omitempty"`

	// Programmer-reported identity.
	DeviceID string `json:"device_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`

	// Captures holds named values harvested by the provisioning script.
	Captures map[string]string `json:"captures,omitempty"`

	// TestCaptures holds values harvested by the test script.
	TestCaptures map[string]string `json:"test_captures,omitempty"`

	// Log holds ordered operator-visible lines per phase.
	Log map[Phase][]string `json:"log,omitempty"`

	// Phase timing, recorded by the state machine on transitions.
	PhaseStarted map[Phase]time.Time `json:"phase_started,omitempty"`
	PhaseEnded   map[Phase]time.Time `json:"phase_ended,omitempty"`
}

// NewBoardInfo creates an empty info record with all maps allocated.
func NewBoardInfo() *BoardInfo {
	return &BoardInfo{
		Captures:     make(map[string]string),
		TestCaptures: make(map[string]string),
		Log:          make(map[Phase][]string),
		PhaseStarted: make(map[Phase]time.Time),
		PhaseEnded:   make(map[Phase]time.Time),
	}
}

// AppendLog adds one line to the phase's ordered log.
func (bi *BoardInfo) AppendLog(phase Phase, line string) {
	bi.Log[phase] = append(bi.Log[phase], line)
}

// PhaseDuration returns how long a phase ran, or zero when it has not
// both started and ended.
func (bi *BoardInfo) PhaseDuration(phase Phase) time.Duration {
	start, ok := bi.PhaseStarted[phase]
	if !ok {
		return 0
	}
	end, ok := bi.PhaseEnded[phase]
	if !ok {
		return 0
	}
	return end.Sub(start)
}

// DeepCopy creates a complete independent copy of the info record.
func (bi *BoardInfo) DeepCopy() *BoardInfo {
	if bi == nil {
		return nil
	}
	cpy := *bi
	cpy.Captures = maps.Clone(bi.Captures)
	cpy.TestCaptures = maps.Clone(bi.TestCaptures)
	cpy.PhaseStarted = maps.Clone(bi.PhaseStarted)
	cpy.PhaseEnded = maps.Clone(bi.PhaseEnded)
	if bi.Log != nil {
		cpy.Log = make(map[Phase][]string, len(bi.Log))
		for ph, lines := range bi.Log {
			cpy.Log[ph] = slices.Clone(lines)
		}
	}
	return &cpy
}

// BoardStatus is the live sequencing state of one grid position: the
// operator-owned enabled flag, the five phase states, the first
// failure, and the BoardInfo collected so far.
//
// BoardStatus itself is not synchronised; Grid owns concurrent access.
type BoardStatus struct {
	// Position, 1-based.
	Row int `json:"row"`
	Col int `json:"col"`

	// Enabled is the operator's hard skip. The sequencing engine reads
	// it but never writes it.
	Enabled bool `json:"enabled"`

	// States holds the current state of every phase.
	States map[Phase]PhaseState `json:"states"`

	// First failure, never overwritten within a cycle.
	FailurePhase  Phase  `json:"failure_phase,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	// Info is everything collected about the board this cycle.
	Info *BoardInfo `json:"info,omitempty"`
}

// NewBoardStatus creates an enabled board with every phase Pending.
func NewBoardStatus(row, col int) *BoardStatus {
	b := &BoardStatus{
		Row:     row,
		Col:     col,
		Enabled: true,
		States:  make(map[Phase]PhaseState, len(Phases())),
		Info:    NewBoardInfo(),
	}
	for _, ph := range Phases() {
		b.States[ph] = StatePending
	}
	return b
}

// CellID returns the operator-facing position label, e.g. "R2C5".
func (b *BoardStatus) CellID() string {
	return fmt.Sprintf("R%dC%d", b.Row, b.Col)
}

// CurrentPhase returns the phase a display should foreground: the
// failed phase for a failed board, otherwise the furthest phase that
// has left Pending. An untouched board reports the first phase.
func (b *BoardStatus) CurrentPhase() Phase {
	if b.Failed() {
		return b.FailurePhase
	}
	phases := Phases()
	for i := len(phases) - 1; i >= 0; i-- {
		s := b.States[phases[i]]
		if s != StatePending && s != StateSkipped {
			return phases[i]
		}
	}
	return phases[0]
}

// State returns the current state of one phase.
func (b *BoardStatus) State(phase Phase) PhaseState {
	return b.States[phase]
}

// Display returns the operator-facing text for one phase.
func (b *BoardStatus) Display(phase Phase) string {
	return DisplayText(phase, b.States[phase])
}

// Advance moves one phase to a new state.
//
// On a Failed transition the first failure's phase and reason are
// recorded and kept (a later failure never overwrites them), and every
// later phase still Pending is skipped. The skip carries no reason of
// its own.
//
// Returns ErrPhaseTerminal or ErrInvalidTransition when the move is not
// allowed; the board is unchanged in that case.
func (b *BoardStatus) Advance(phase Phase, state PhaseState, reason string) error {
	from := b.States[phase]
	if from.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrPhaseTerminal, phase, from)
	}
	if !ValidTransition(phase, from, state) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, phase, from, state)
	}

	b.setState(phase, state)

	if state == StateFailed {
		if b.FailurePhase == "" {
			b.FailurePhase = phase
			b.FailureReason = reason
		}
		b.skipDownstream(phase)
	}
	return nil
}

// setState writes the state and maintains the phase timing record.
func (b *BoardStatus) setState(phase Phase, state PhaseState) {
	prev := b.States[phase]
	b.States[phase] = state
	if b.Info == nil {
		return
	}
	now := time.Now().UTC()
	if prev == StatePending && state.Active() {
		b.Info.PhaseStarted[phase] = now
	}
	if state.Terminal() {
		b.Info.PhaseEnded[phase] = now
	}
}

// skipDownstream forces every phase after the failed one that is still
// Pending to Skipped. Phases already underway or finished keep their
// state.
func (b *BoardStatus) skipDownstream(failed Phase) {
	seen := false
	for _, ph := range Phases() {
		if ph == failed {
			seen = true
			continue
		}
		if seen && b.States[ph] == StatePending {
			b.setState(ph, StateSkipped)
		}
	}
}

// reconcile applies the interruption rules to one board: active phases
// become Interrupted, Pending phases Skipped, terminal phases stay.
// Disabled boards and boards already carrying a failure are left alone.
// Returns true when anything changed.
func (b *BoardStatus) reconcile() bool {
	if !b.Enabled || b.Failed() {
		return false
	}
	changed := false
	for _, ph := range Phases() {
		switch st := b.States[ph]; {
		case st.Active():
			b.setState(ph, StateInterrupted)
			changed = true
		case st == StatePending:
			b.setState(ph, StateSkipped)
			changed = true
		}
	}
	return changed
}

// Failed reports whether any phase failed.
func (b *BoardStatus) Failed() bool {
	for _, st := range b.States {
		if st == StateFailed {
			return true
		}
	}
	return false
}

// Interrupted reports whether any phase was interrupted.
func (b *BoardStatus) Interrupted() bool {
	for _, st := range b.States {
		if st == StateInterrupted {
			return true
		}
	}
	return false
}

// Passed reports whether the board came through clean: enabled, at
// least one phase succeeded, nothing failed or interrupted.
func (b *BoardStatus) Passed() bool {
	if !b.Enabled || b.Failed() || b.Interrupted() {
		return false
	}
	for _, st := range b.States {
		if st == StateScanned || st == StateCompleted {
			return true
		}
	}
	return false
}

// Reset returns every phase to Pending and discards the collected info
// for a new cycle. The operator's enabled flag survives.
func (b *BoardStatus) Reset() {
	for _, ph := range Phases() {
		b.States[ph] = StatePending
	}
	b.FailurePhase = ""
	b.FailureReason = ""
	b.Info = NewBoardInfo()
}

// DeepCopy creates a complete independent copy. Observers receive
// copies so the live grid can never be mutated from outside.
func (b *BoardStatus) DeepCopy() *BoardStatus {
	if b == nil {
		return nil
	}
	cpy := *b
	cpy.States = maps.Clone(b.States)
	cpy.Info = b.Info.DeepCopy()
	return &cpy
}
