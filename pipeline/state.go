package pipeline

import (
	"fmt"
	"slices"

	"github.com/wippyai/wasm-release/errors"
)

// State is a pipeline state
type State int

const (
	StateNotStarted State = iota
	StateCompiling
	StateBinding
	StateOptimizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateCompiling:
		return "Compiling"
	case StateBinding:
		return "Binding"
	case StateOptimizing:
		return "Optimizing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Phase maps a stage state to the error phase it reports under.
func (s State) Phase() errors.Phase {
	switch s {
	case StateCompiling:
		return errors.PhaseCompile
	case StateBinding:
		return errors.PhaseBind
	case StateOptimizing:
		return errors.PhaseOptimize
	default:
		return errors.PhaseConfig
	}
}

var transitions = map[State][]State{
	StateNotStarted: {StateCompiling, StateFailed},
	StateCompiling:  {StateBinding, StateFailed},
	StateBinding:    {StateOptimizing, StateDone, StateFailed},
	StateOptimizing: {StateDone, StateFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
