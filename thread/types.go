package thread

import (
	"context"
	"sync"
	"time"

	"github.com/linanwx/edgeagent/config"
	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/scheduler"
	"github.com/linanwx/edgeagent/session"
	"github.com/linanwx/edgeagent/statemachine"
	"github.com/linanwx/edgeagent/toolcache"
	"github.com/linanwx/edgeagent/tools"
)

// Sink delivers a turn's final response.
type Sink func(ctx context.Context, response string) error

// WakeMessage is an item in a thread's wake queue.
type WakeMessage struct {
	Source  string // "cli", "cron", "serve", ...
	Message string
	Sink    Sink // nil falls back to the thread's default sink
}

// threadState represents the scheduling state of a thread.
type threadState int

const (
	threadIdle    threadState = iota // No turn running.
	threadRunning                    // A turn is executing.
)

const (
	defaultMaxConcurrency = 16
	defaultInboxSize      = 64
	defaultThreadTTL      = 30 * time.Minute
	gcInterval            = 5 * time.Minute
	defaultSessionKey     = "cli:default"
)

// ThreadConfig contains shared dependencies for creating threads.
type ThreadConfig struct {
	Provider     provider.Provider
	Tools        *tools.Registry
	Sessions     *session.Manager
	Workspace    string
	SystemPrompt string

	Orchestrator        config.OrchestratorConfig
	MaxIterations       int
	ContextWindowTokens int
	ContextWarnRatio    float64

	DefaultSinkFor func(sessionKey string) Sink
}

// ConfigFrom builds a ThreadConfig from the loaded configuration.
func ConfigFrom(cfg *config.Config, p provider.Provider, reg *tools.Registry, sessions *session.Manager) (*ThreadConfig, error) {
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, err
	}
	return &ThreadConfig{
		Provider:            p,
		Tools:               reg,
		Sessions:            sessions,
		Workspace:           workspace,
		Orchestrator:        cfg.Orchestrator,
		MaxIterations:       cfg.Agent.MaxIterations,
		ContextWindowTokens: cfg.Agent.ContextWindowTokens,
		ContextWarnRatio:    cfg.Agent.ContextWarnRatio,
	}, nil
}

// Thread is one session: its state machine, tool cache and wake queue.
// Turns of a thread never overlap.
type Thread struct {
	id         string
	mgr        *Manager
	sessionKey string

	machine  *statemachine.Machine
	monitor  statemachine.Monitor
	cache    *toolcache.Cache
	selector contextbudget.Selector
	planner  *scheduler.Planner

	// Scheduling fields, guarded by mgr.mu.
	state  threadState
	inbox  chan *WakeMessage
	signal chan struct{}

	turnMu sync.Mutex // held for the duration of a turn

	mu           sync.Mutex
	defaultSink  Sink
	lastActiveAt time.Time
	cancelTurn   context.CancelFunc // non-nil while a turn runs
	metrics      *ExecMetrics       // non-nil while a turn runs
	lastMetrics  *ExecMetrics
}

// ToolCallRecord summarizes one executed tool call.
type ToolCallRecord struct {
	Name          string `json:"name"`
	ArgsSummary   string `json:"args_summary"`
	ResultPreview string `json:"result_preview"`
	DurationMs    int64  `json:"duration_ms"`
	Cached        bool   `json:"cached"`
	Attempts      int    `json:"attempts"`
	Error         bool   `json:"error"`
}

// ExecMetrics tracks a running turn.
type ExecMetrics struct {
	mu             sync.Mutex
	TurnID         string
	TurnStart      time.Time
	Iterations     int
	TotalToolCalls int
	CacheHits      int
	ToolCalls      []ToolCallRecord
}

func (m *ExecMetrics) record(rec ToolCallRecord) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalToolCalls++
	if rec.Cached {
		m.CacheHits++
	}
	m.ToolCalls = append(m.ToolCalls, rec)
}

func (m *ExecMetrics) nextIteration() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Iterations++
	m.mu.Unlock()
}

// Snapshot returns a copy safe to read while the turn continues.
func (m *ExecMetrics) Snapshot() ExecMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ExecMetrics{
		TurnID:         m.TurnID,
		TurnStart:      m.TurnStart,
		Iterations:     m.Iterations,
		TotalToolCalls: m.TotalToolCalls,
		CacheHits:      m.CacheHits,
		ToolCalls:      append([]ToolCallRecord(nil), m.ToolCalls...),
	}
}

// Info describes a thread for listings.
type Info struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"session_key"`
	State        string    `json:"state"`
	Running      bool      `json:"running"`
	Pending      int       `json:"pending"`
	LastActiveAt time.Time `json:"last_active_at"`
	Cache        toolcache.Stats
}

// cfg returns the shared config from the manager.
func (t *Thread) cfg() *ThreadConfig {
	if t.mgr != nil {
		return t.mgr.cfg
	}
	return &ThreadConfig{}
}

// ID returns the thread ID.
func (t *Thread) ID() string { return t.id }

// SessionKey returns the session key the thread serves.
func (t *Thread) SessionKey() string { return t.sessionKey }

// State returns the current process state.
func (t *Thread) State() statemachine.State { return t.machine.Current() }

// History returns the state history, oldest first.
func (t *Thread) History() []statemachine.HistoryEntry { return t.machine.History() }

// CacheStats returns the tool cache occupancy.
func (t *Thread) CacheStats() toolcache.Stats { return t.cache.Stats() }

// Metrics returns a snapshot of the running turn, or of the last finished
// one when idle.
func (t *Thread) Metrics() (ExecMetrics, bool) {
	t.mu.Lock()
	m := t.metrics
	if m == nil {
		m = t.lastMetrics
	}
	t.mu.Unlock()
	if m == nil {
		return ExecMetrics{}, false
	}
	return m.Snapshot(), true
}

// SetDefaultSink sets the sink used when a wake carries none.
func (t *Thread) SetDefaultSink(s Sink) {
	t.mu.Lock()
	t.defaultSink = s
	t.mu.Unlock()
}
