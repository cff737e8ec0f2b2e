package board

// Phase identifies one stage of the per-board pipeline. The pipeline
// order is fixed: vision, probe, program, provision, test.
type Phase string

// Pipeline phases.
const (
	PhaseVision    Phase = "vision"
	PhaseProbe     Phase = "probe"
	PhaseProgram   Phase = "program"
	PhaseProvision Phase = "provision"
	PhaseTest      Phase = "test"
)

// Phases returns every phase in pipeline order.
func Phases() []Phase {
	return []Phase{PhaseVision, PhaseProbe, PhaseProgram, PhaseProvision, PhaseTest}
}

// PhaseState is one state of the per-phase machine. A single state set
// serves all five phases; the transition table narrows which states a
// given phase actually visits.
type PhaseState string

// Phase states.
const (
	StatePending      PhaseState = "pending"
	StateScanning     PhaseState = "scanning"
	StateScanned      PhaseState = "scanned"
	StateProbing      PhaseState = "probing"
	StateIdentifying  PhaseState = "identifying"
	StateIdentified   PhaseState = "identified"
	StateProgramming  PhaseState = "programming"
	StateProvisioning PhaseState = "provisioning"
	StateTesting      PhaseState = "testing"
	StateCompleted    PhaseState = "completed"
	StateFailed       PhaseState = "failed"
	StateSkipped      PhaseState = "skipped"
	StateInterrupted  PhaseState = "interrupted"
)

// Terminal reports whether the state is final. Terminal states are
// never mutated again.
func (s PhaseState) Terminal() bool {
	switch s {
	case StateScanned, StateCompleted, StateFailed, StateSkipped, StateInterrupted:
		return true
	}
	return false
}

// Active reports whether the phase is mid-flight: started but not yet
// terminal.
func (s PhaseState) Active() bool {
	return s != StatePending && !s.Terminal()
}

// transitions holds the per-phase forward moves. Skipped (from Pending)
// and Interrupted (from any active state) are allowed for every phase
// and handled as rules in ValidTransition rather than table rows.
var transitions = map[Phase]map[PhaseState][]PhaseState{
	PhaseVision: {
		StatePending:  {StateScanning},
		StateScanning: {StateScanned, StateFailed},
	},
	PhaseProbe: {
		StatePending: {StateProbing},
		StateProbing: {StateCompleted, StateFailed},
	},
	PhaseProgram: {
		StatePending:     {StateIdentifying},
		StateIdentifying: {StateIdentified, StateFailed},
		StateIdentified:  {StateProgramming, StateFailed},
		StateProgramming: {StateCompleted, StateFailed},
	},
	PhaseProvision: {
		StatePending:      {StateProvisioning},
		StateProvisioning: {StateCompleted, StateFailed},
	},
	PhaseTest: {
		StatePending: {StateTesting},
		StateTesting: {StateCompleted, StateFailed},
	},
}

// ValidTransition reports whether phase may move from one state to
// another.
func ValidTransition(phase Phase, from, to PhaseState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateSkipped {
		return from == StatePending
	}
	if to == StateInterrupted {
		return from.Active()
	}
	for _, next := range transitions[phase][from] {
		if next == to {
			return true
		}
	}
	return false
}
