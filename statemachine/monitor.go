package statemachine

import "time"

// Default advisory timeouts.
const (
	DefaultProcessingTimeout    = 30 * time.Second
	DefaultGeneratingTimeout    = 300 * time.Second
	DefaultToolExecutionTimeout = 120 * time.Second
)

// TimeoutAdvice is returned by Monitor.Advice for a timed out state.
const TimeoutAdvice = "state timeout - consider resetting"

// Monitor reports states that outlived their timeout. It never transitions
// anything; the caller decides whether to Fail or close.
type Monitor struct {
	ProcessingTimeout    time.Duration
	GeneratingTimeout    time.Duration
	ToolExecutionTimeout time.Duration
}

// DefaultMonitor returns a Monitor with the default timeouts.
func DefaultMonitor() Monitor {
	return Monitor{
		ProcessingTimeout:    DefaultProcessingTimeout,
		GeneratingTimeout:    DefaultGeneratingTimeout,
		ToolExecutionTimeout: DefaultToolExecutionTimeout,
	}
}

// IsTimeout reports whether elapsed exceeds the timeout of s. Only whole
// seconds count, so 30.9s is not a timeout of a 30s limit. States without a
// timeout never time out.
func (m Monitor) IsTimeout(s State, elapsed time.Duration) bool {
	limit, ok := m.timeoutFor(s)
	if !ok {
		return false
	}
	return elapsed.Truncate(time.Second) > limit
}

// Advice returns a hint for the caller, or "" when s is within its timeout.
func (m Monitor) Advice(s State, elapsed time.Duration) string {
	if m.IsTimeout(s, elapsed) {
		return TimeoutAdvice
	}
	return ""
}

func (m Monitor) timeoutFor(s State) (time.Duration, bool) {
	switch s.(type) {
	case Processing:
		return m.ProcessingTimeout, true
	case Generating:
		return m.GeneratingTimeout, true
	case ExecutingTools:
		return m.ToolExecutionTimeout, true
	default:
		return 0, false
	}
}
