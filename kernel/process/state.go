package process

import "nyx/kernel"

// State is a process's position in its lifecycle.
type State uint8

const (
	// StateNew is the state of a process that has been constructed but not
	// yet handed to the scheduler.
	StateNew State = iota

	// StateReady means the process is eligible for dispatch.
	StateReady

	// StateRunning means the process currently owns the CPU.
	StateRunning

	// StateBlocked means the process is waiting for an event and will not
	// be dispatched until it transitions back to StateReady.
	StateBlocked

	// StateTerminated means the process has exited; its exit code is
	// available but its resources may not yet be fully reclaimed (see
	// Process.Reap).
	StateTerminated
)

// String implements fmt.Stringer-like formatting for kfmt.Printf's %s verb
// without depending on the fmt package.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateBlocked:
		return "Blocked"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

var errInvalidTransition = &kernel.Error{Module: "process", Message: "invalid state transition"}

// validEdges enumerates the process lifecycle graph. A transition not
// listed here is rejected.
var validEdges = map[State][]State{
	StateNew:        {StateReady},
	StateReady:      {StateRunning},
	StateRunning:    {StateReady, StateBlocked, StateTerminated},
	StateBlocked:    {StateReady},
	StateTerminated: nil,
}

// transition moves a process from its current state to to, rejecting any
// edge not present in the lifecycle graph.
func transition(from, to State) *kernel.Error {
	for _, allowed := range validEdges[from] {
		if allowed == to {
			return nil
		}
	}
	return errInvalidTransition
}
