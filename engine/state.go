package engine

import (
	"errors"
	"fmt"
)

// State is a step of a synchronization run.
type State int

const (
	StateIdle State = iota
	StateDiffing
	StateSkipNoChange
	StateSubmitting
	StatePolling
	StateReconciling
	StatePersisting
	StateDone
	StateDegraded
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateDiffing:      "diffing",
	StateSkipNoChange: "skip_no_change",
	StateSubmitting:   "submitting",
	StatePolling:      "polling",
	StateReconciling:  "reconciling",
	StatePersisting:   "persisting",
	StateDone:         "done",
	StateDegraded:     "degraded",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrIllegalTransition reports a step the run may not take.
var ErrIllegalTransition = errors.New("illegal state transition")

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateDiffing
	case StateDiffing:
		return to == StateSkipNoChange || to == StateSubmitting
	case StateSkipNoChange:
		return to == StateReconciling || to == StateDone || to == StateDegraded
	case StateSubmitting:
		return to == StatePolling || to == StateReconciling || to == StateDegraded
	case StatePolling:
		return to == StateReconciling || to == StateDegraded
	case StateDegraded:
		return to == StateReconciling || to == StatePersisting
	case StateReconciling:
		return to == StatePersisting
	case StatePersisting:
		return to == StateDone
	default:
		return false
	}
}

// transition validates and records a step.
func (e *Engine) transition(to State) error {
	from := e.state
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	e.state = to
	e.trace = append(e.trace, to)
	return nil
}
