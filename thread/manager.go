package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/scheduler"
	"github.com/linanwx/edgeagent/statemachine"
	"github.com/linanwx/edgeagent/toolcache"
	"github.com/linanwx/edgeagent/tools"
)

// Manager keeps long-lived threads and schedules their execution.
type Manager struct {
	cfg            *ThreadConfig
	mu             sync.Mutex
	threads        map[string]*Thread
	maxConcurrency int
	threadTTL      time.Duration
	signal         chan struct{} // aggregated notification from all threads
	wg             sync.WaitGroup
}

// NewManager creates a thread manager. Unset orchestrator values take
// their defaults.
func NewManager(cfg *ThreadConfig) *Manager {
	c := ThreadConfig{}
	if cfg != nil {
		c = *cfg
	}
	cfg = &c
	cfg.Orchestrator = cfg.Orchestrator.WithDefaults()
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	return &Manager{
		cfg:            cfg,
		threads:        make(map[string]*Thread),
		maxConcurrency: defaultMaxConcurrency,
		threadTTL:      defaultThreadTTL,
		signal:         make(chan struct{}, 1),
	}
}

// Run is the manager's main scheduling loop. It picks runnable threads and
// runs them up to maxConcurrency in parallel. Blocks until ctx is cancelled
// and running turns have returned.
func (m *Manager) Run(ctx context.Context) {
	sem := make(chan struct{}, m.maxConcurrency)
	gc := time.NewTicker(gcInterval)
	defer gc.Stop()
	defer m.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
			m.scheduleReady(ctx, sem)
		case <-gc.C:
			m.collectIdle(time.Now())
		}
	}
}

// scheduleReady scans threads and starts goroutines for any that are idle with
// pending messages.
func (m *Manager) scheduleReady(ctx context.Context, sem chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.threads {
		if t.state == threadIdle && t.hasMessages() {
			t.state = threadRunning
			m.wg.Add(1)

			go func(thread *Thread) {
				defer m.wg.Done()
				// Acquire concurrency slot (may block).
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					m.mu.Lock()
					thread.state = threadIdle
					m.mu.Unlock()
					return
				}
				defer func() { <-sem }()

				thread.RunOnce(ctx)

				m.mu.Lock()
				thread.state = threadIdle
				hasMore := thread.hasMessages()
				m.mu.Unlock()

				if hasMore {
					m.notify()
				}
			}(t)
		}
	}
}

// notify sends a non-blocking signal to the manager's run loop.
func (m *Manager) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Wake enqueues a wake message on the target thread (creating it if needed).
func (m *Manager) Wake(sessionKey string, msg *WakeMessage) {
	t := m.NewThread(sessionKey)
	t.Enqueue(msg)
	m.notify()
}

// WakeWith is a convenience method that constructs a WakeMessage from simple
// parameters.
func (m *Manager) WakeWith(sessionKey, source, message string) {
	m.Wake(sessionKey, &WakeMessage{
		Source:  source,
		Message: message,
	})
}

// NewThread returns an existing thread, or creates one.
func (m *Manager) NewThread(sessionKey string) *Thread {
	sessionKey = normalizeKey(sessionKey)

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.threads[sessionKey]; ok {
		return t
	}

	orch := m.cfg.Orchestrator
	t := &Thread{
		id:         fmt.Sprintf("thread-%d", time.Now().UnixNano()),
		mgr:        m,
		sessionKey: sessionKey,
		machine:    statemachine.New(statemachine.WithMaxHistory(orch.StateMachine.MaxHistorySize)),
		monitor: statemachine.Monitor{
			ProcessingTimeout:    orch.StateMachine.ProcessingTimeout(),
			GeneratingTimeout:    orch.StateMachine.GeneratingTimeout(),
			ToolExecutionTimeout: orch.StateMachine.ToolExecutionTimeout(),
		},
		cache: toolcache.New(
			toolcache.WithMaxSize(orch.Cache.MaxSize),
			toolcache.WithTTLs(orch.Cache.ShortTTL(), orch.Cache.LongTTL()),
		),
		selector: contextbudget.Selector{
			MaxTokens:           orch.Context.MaxTokens,
			MinMessages:         orch.Context.MinMessages,
			ImportanceThreshold: orch.Context.Threshold(),
			KeepToolResults:     orch.Context.KeepToolResults,
		},
		planner:      scheduler.ForRegistry(m.cfg.Tools),
		state:        threadIdle,
		inbox:        make(chan *WakeMessage, defaultInboxSize),
		signal:       m.signal,
		lastActiveAt: time.Now(),
	}
	if m.cfg.DefaultSinkFor != nil {
		t.defaultSink = m.cfg.DefaultSinkFor(sessionKey)
	}
	m.threads[sessionKey] = t
	logger.Debug("thread created", "threadID", t.id, "sessionKey", sessionKey)
	return t
}

// Get returns the thread of sessionKey if it exists.
func (m *Manager) Get(sessionKey string) (*Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[normalizeKey(sessionKey)]
	return t, ok
}

// List describes all threads, sorted by session key.
func (m *Manager) List() []Info {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(threads))
	for _, t := range threads {
		out = append(out, t.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// PurgeCaches drops expired tool results of every thread and returns how
// many were removed.
func (m *Manager) PurgeCaches() int {
	m.mu.Lock()
	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	m.mu.Unlock()

	total := 0
	for _, t := range threads {
		total += t.cache.PurgeExpired()
	}
	return total
}

// Close closes and forgets the thread of sessionKey.
func (m *Manager) Close(sessionKey string) bool {
	m.mu.Lock()
	t, ok := m.threads[normalizeKey(sessionKey)]
	if ok {
		delete(m.threads, t.sessionKey)
	}
	m.mu.Unlock()
	if ok {
		t.Close()
	}
	return ok
}

// CloseAll closes every thread.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	threads := m.threads
	m.threads = make(map[string]*Thread)
	m.mu.Unlock()
	for _, t := range threads {
		t.Close()
	}
}

// collectIdle closes threads idle for longer than the thread TTL.
func (m *Manager) collectIdle(now time.Time) int {
	m.mu.Lock()
	var stale []*Thread
	for key, t := range m.threads {
		if t.state != threadIdle || t.hasMessages() {
			continue
		}
		t.mu.Lock()
		idle := now.Sub(t.lastActiveAt)
		t.mu.Unlock()
		if idle > m.threadTTL {
			stale = append(stale, t)
			delete(m.threads, key)
		}
	}
	m.mu.Unlock()

	for _, t := range stale {
		logger.Info("collecting idle thread", "threadID", t.id, "sessionKey", t.sessionKey)
		t.Close()
	}
	return len(stale)
}

func normalizeKey(sessionKey string) string {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return defaultSessionKey
	}
	return sessionKey
}
