package orchestrator

// State is the position of one request in the two-stage pipeline.
type State int

const (
	StateInit State = iota
	StateReasoningInFlight
	StateReasoningComplete
	StateResponseInFlight
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:              "init",
	StateReasoningInFlight: "reasoning_in_flight",
	StateReasoningComplete: "reasoning_complete",
	StateResponseInFlight:  "response_in_flight",
	StateFinalizing:        "finalizing",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next lists the legal successors of each non-terminal state. Any state may
// move to StateFailed.
var next = map[State]State{
	StateInit:              StateReasoningInFlight,
	StateReasoningInFlight: StateReasoningComplete,
	StateReasoningComplete: StateResponseInFlight,
	StateResponseInFlight:  StateFinalizing,
	StateFinalizing:        StateDone,
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}
