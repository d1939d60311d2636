// Package statemachine tracks the lifecycle of one agent turn.
//
// States and events are closed sets of small value types; Machine applies
// the transition table and records a bounded history of prior states.
package statemachine

import "fmt"

// State is one of Idle, Processing, Generating, ExecutingTools, Errored,
// Closing or Closed.
type State interface {
	fmt.Stringer
	isState()
}

// Idle waits for the next user message.
type Idle struct{}

// Processing prepares context for the next model call.
type Processing struct{}

// Generating streams a model response.
type Generating struct {
	CharsGenerated int
}

// ExecutingTools runs the tool calls of one model response.
type ExecutingTools struct {
	Total     int
	Completed int
}

// Errored holds the reason the turn failed.
type Errored struct {
	Message string
}

// Closing is entered when shutdown was requested.
type Closing struct{}

// Closed is the final state of a shut down session.
type Closed struct{}

func (Idle) isState()           {}
func (Processing) isState()     {}
func (Generating) isState()     {}
func (ExecutingTools) isState() {}
func (Errored) isState()        {}
func (Closing) isState()        {}
func (Closed) isState()         {}

func (Idle) String() string       { return "Idle" }
func (Processing) String() string { return "Processing" }
func (s Generating) String() string {
	return fmt.Sprintf("Generating(%d chars)", s.CharsGenerated)
}
func (s ExecutingTools) String() string {
	return fmt.Sprintf("ExecutingTools(%d/%d)", s.Completed, s.Total)
}
func (s Errored) String() string { return fmt.Sprintf("Error(%s)", s.Message) }
func (Closing) String() string   { return "Closing" }
func (Closed) String() string    { return "Closed" }

// IsActive reports whether a turn is in flight.
func IsActive(s State) bool {
	switch s.(type) {
	case Processing, Generating, ExecutingTools:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s accepts no event other than StartClosing.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Errored, Closed:
		return true
	default:
		return false
	}
}

// IsError reports whether s is Errored.
func IsError(s State) bool {
	_, ok := s.(Errored)
	return ok
}

// Name returns the variant name of s without payload.
func Name(s State) string {
	switch s.(type) {
	case Idle:
		return "Idle"
	case Processing:
		return "Processing"
	case Generating:
		return "Generating"
	case ExecutingTools:
		return "ExecutingTools"
	case Errored:
		return "Error"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
