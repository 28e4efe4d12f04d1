package claim

import "fmt"

// State is a claimed file's position in its lifecycle.
type State string

const (
	StateDetected            State = "detected"
	StateStabilizing         State = "stabilizing"
	StateClaimed             State = "claimed"
	StateProcessing          State = "processing"
	StateArchived            State = "archived"
	StateRejected            State = "rejected"
	StateReleasedBackToQueue State = "released"
)

var transitions = map[State][]State{
	StateDetected:            {StateStabilizing},
	StateStabilizing:         {StateDetected, StateClaimed, StateReleasedBackToQueue},
	StateClaimed:             {StateProcessing, StateRejected, StateReleasedBackToQueue},
	StateProcessing:          {StateArchived, StateRejected, StateReleasedBackToQueue},
	StateReleasedBackToQueue: {StateDetected},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateArchived || s == StateRejected
}

// Transition moves f to next or returns an error for an illegal edge.
func (f *ClaimedFile) Transition(next State) error {
	if !f.State.CanTransition(next) {
		return fmt.Errorf("illegal claim transition %s -> %s for %s", f.State, next, f.OriginalPath)
	}
	f.State = next
	return nil
}
