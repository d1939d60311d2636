package statemachine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxHistorySize bounds the history of a Machine.
const DefaultMaxHistorySize = 100

// ErrInvalidTransition matches every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError reports an event that the current state does not accept.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s + %s", e.From, e.Event)
}

// Is makes errors.Is(err, ErrInvalidTransition) succeed.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// HistoryEntry records a state that was left and when it was left.
type HistoryEntry struct {
	State State
	At    time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMaxHistory bounds the history buffer. Values below 1 keep the default.
func WithMaxHistory(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// Machine is the per-session turn state machine. It is safe for concurrent use.
type Machine struct {
	mu         sync.Mutex
	current    State
	history    []HistoryEntry
	maxHistory int
	now        func() time.Time
}

// New creates a Machine in the Idle state.
func New(opts ...Option) *Machine {
	m := &Machine{
		current:    Idle{},
		maxHistory: DefaultMaxHistorySize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition applies ev. On an invalid pair it returns an
// *InvalidTransitionError and leaves the state unchanged.
func (m *Machine) Transition(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := nextState(m.current, ev)
	if !ok {
		return &InvalidTransitionError{From: m.current, Event: ev}
	}

	m.history = append(m.history, HistoryEntry{State: m.current, At: m.now()})
	if over := len(m.history) - m.maxHistory; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.current = next
	return nil
}

// DurationInState returns the time since the last transition, or zero if
// the machine has not transitioned since creation or Reset.
func (m *Machine) DurationInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.now().Sub(m.history[len(m.history)-1].At)
}

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns to Idle and clears history.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Idle{}
	m.history = nil
}

func nextState(from State, ev Event) (State, bool) {
	// StartClosing is accepted everywhere.
	if _, ok := ev.(StartClosing); ok {
		return Closing{}, true
	}

	switch s := from.(type) {
	case Idle:
		if _, ok := ev.(StartProcessing); ok {
			return Processing{}, true
		}

	case Processing:
		switch e := ev.(type) {
		case StartGenerating:
			return Generating{}, true
		case StartToolExecution:
			return ExecutingTools{Total: e.Total}, true
		case Fail:
			return Errored{Message: e.Reason}, true
		}

	case Generating:
		switch e := ev.(type) {
		case GeneratingProgress:
			return Generating{CharsGenerated: e.Chars}, true
		case StartToolExecution:
			return ExecutingTools{Total: e.Total}, true
		case Complete:
			return Idle{}, true
		case Fail:
			return Errored{Message: e.Reason}, true
		}

	case ExecutingTools:
		switch e := ev.(type) {
		case StartGenerating:
			return Generating{}, true
		case ToolCompleted:
			if s.Completed+1 >= s.Total {
				return Processing{}, true
			}
			return ExecutingTools{Total: s.Total, Completed: s.Completed + 1}, true
		case Complete:
			return Idle{}, true
		case Fail:
			return Errored{Message: e.Reason}, true
		}

	case Closing:
		if _, ok := ev.(FinishClosing); ok {
			return Closed{}, true
		}
	}

	return nil, false
}
