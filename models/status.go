package models

// Status is the lifecycle state of a workspace. Transitions are
// validated against the table below; anything else is rejected at the
// API boundary instead of leaking into the engine.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// legalTransitions maps a state to the states reachable from it.
// Stopped and error are terminal: a workspace is never resurrected, a
// new one is created instead. Error is reachable from any live state
// on an unrecoverable engine failure.
var legalTransitions = map[Status][]Status{
	StatusCreated: {StatusRunning, StatusStopped, StatusError},
	StatusRunning: {StatusStopped, StatusError},
	StatusStopped: {},
	StatusError:   {},
}

func (s Status) CanTransition(next Status) bool {
	if next == StatusError {
		return !s.Terminal()
	}
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

func (s Status) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}
