package jobs

// State is a job lifecycle state. The legal path is
// PENDING -> IN_PROGRESS -> SUCCEEDED or FAILED; a PENDING job that no
// worker ever claims may also fail directly, so a crash before the
// claim cannot strand it outside a terminal state. Terminal states are
// frozen forever.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

var successors = map[State]map[State]bool{
	StatePending:    {StateInProgress: true, StateFailed: true},
	StateInProgress: {StateSucceeded: true, StateFailed: true},
	StateSucceeded:  {},
	StateFailed:     {},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	return successors[s][next]
}

// IsTerminal reports whether s is a final state.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	_, ok := successors[s]
	return ok
}
