package statemachine

import (
	"testing"
	"time"
)

func TestMonitorIsTimeout(t *testing.T) {
	m := DefaultMonitor()
	tests := []struct {
		name    string
		state   State
		elapsed time.Duration
		want    bool
	}{
		{"processing within", Processing{}, 30 * time.Second, false},
		{"processing fraction ignored", Processing{}, 30*time.Second + 900*time.Millisecond, false},
		{"processing over", Processing{}, 31 * time.Second, true},
		{"generating within", Generating{CharsGenerated: 10}, 299 * time.Second, false},
		{"generating over", Generating{}, 301 * time.Second, true},
		{"tools over", ExecutingTools{Total: 2}, 121 * time.Second, true},
		{"idle never", Idle{}, time.Hour, false},
		{"error never", Errored{Message: "x"}, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.IsTimeout(tt.state, tt.elapsed); got != tt.want {
				t.Fatalf("IsTimeout(%v, %v) = %v, want %v", tt.state, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestMonitorAdvice(t *testing.T) {
	m := Monitor{ProcessingTimeout: time.Second}
	if got := m.Advice(Processing{}, 500*time.Millisecond); got != "" {
		t.Fatalf("Advice() = %q, want empty", got)
	}
	if got := m.Advice(Processing{}, 2*time.Second); got != TimeoutAdvice {
		t.Fatalf("Advice() = %q, want %q", got, TimeoutAdvice)
	}
}
