package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/session"
	"github.com/linanwx/edgeagent/statemachine"
	"github.com/linanwx/edgeagent/tools"
)

// ErrThreadClosed is returned for turns on a closed thread.
var ErrThreadClosed = errors.New("thread closed")

// RunTurn executes one turn for userMessage and returns the final answer.
// Concurrent calls on the same thread run one after another.
func (t *Thread) RunTurn(ctx context.Context, userMessage string) (string, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return "", nil
	}

	t.turnMu.Lock()
	defer t.turnMu.Unlock()

	if err := t.prepareMachine(); err != nil {
		return "", err
	}

	cfg := t.cfg()
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := &ExecMetrics{TurnID: uuid.NewString(), TurnStart: time.Now()}
	t.mu.Lock()
	t.cancelTurn = cancel
	t.metrics = metrics
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.cancelTurn = nil
		t.metrics = nil
		t.lastMetrics = metrics
		t.lastActiveAt = time.Now()
		t.mu.Unlock()
	}()

	reg := t.registry()
	messages := []provider.Message{provider.SystemMessage(buildSystemPrompt(cfg, reg.Names(), time.Now()))}

	sess := t.loadSession()
	if sess != nil {
		messages = append(messages, sess.Messages...)
	}
	userMsg := provider.UserMessage(userMessage)
	messages = append(messages, userMsg)
	t.checkContextPressure(messages)

	// Write-ahead: persist the user message before the model call so it
	// survives a crash.
	t.appendToSession(userMsg)

	runCtx := tools.WithCallContext(turnCtx, tools.CallContext{
		SessionKey: t.sessionKey,
		TurnID:     metrics.TurnID,
	})

	executor := NewExecutor(reg, t.cache, t.planner, cfg.Orchestrator.Execution)
	runner := NewRunner(cfg.Provider, reg, t.machine, t.monitor, executor, t.selector)
	runner.SetMaxIterations(cfg.MaxIterations)
	runner.metrics = metrics

	var intermediates []provider.Message
	runner.OnMessage(func(m provider.Message) {
		intermediates = append(intermediates, m)
	})

	logger.Info("turn started", "threadID", t.id, "sessionKey", t.sessionKey, "turnID", metrics.TurnID)
	response, err := runner.Run(runCtx, messages)

	// Tool results produced before a failure are kept for the next turn.
	final := intermediates
	if err == nil {
		final = append(final, provider.AssistantMessage(response))
	}
	t.appendToSession(final...)

	snap := metrics.Snapshot()
	if err != nil {
		logger.Error("turn failed",
			"threadID", t.id,
			"sessionKey", t.sessionKey,
			"turnID", metrics.TurnID,
			"state", t.machine.Current().String(),
			"iterations", snap.Iterations,
			"err", err,
		)
		return "", err
	}
	logger.Info("turn finished",
		"threadID", t.id,
		"sessionKey", t.sessionKey,
		"turnID", metrics.TurnID,
		"iterations", snap.Iterations,
		"toolCalls", snap.TotalToolCalls,
		"cacheHits", snap.CacheHits,
		"duration", time.Since(snap.TurnStart).Round(time.Millisecond),
	)
	return response, nil
}

// prepareMachine makes sure a turn can start from Idle. A machine left in
// Error, or stuck mid-turn, is reset; a closed thread refuses the turn.
func (t *Thread) prepareMachine() error {
	switch s := t.machine.Current().(type) {
	case statemachine.Idle:
		return nil
	case statemachine.Closing, statemachine.Closed:
		return ErrThreadClosed
	default:
		logger.Warn("resetting state machine before turn", "threadID", t.id, "sessionKey", t.sessionKey, "state", s.String())
		t.machine.Reset()
		return nil
	}
}

// Close stops the thread: the machine moves to Closing, a running turn is
// cancelled and waited for, then the machine is Closed.
func (t *Thread) Close() {
	if err := t.machine.Transition(statemachine.StartClosing{}); err != nil {
		logger.Warn("close rejected", "threadID", t.id, "err", err)
		return
	}
	t.mu.Lock()
	cancel := t.cancelTurn
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	if err := t.machine.Transition(statemachine.FinishClosing{}); err != nil {
		logger.Warn("finish close rejected", "threadID", t.id, "err", err)
	}
	logger.Info("thread closed", "threadID", t.id, "sessionKey", t.sessionKey)
}

func (t *Thread) registry() *tools.Registry {
	if reg := t.cfg().Tools; reg != nil {
		return reg
	}
	return tools.NewRegistry()
}

func (t *Thread) checkContextPressure(messages []provider.Message) {
	cfg := t.cfg()
	if cfg.ContextWindowTokens <= 0 || cfg.ContextWarnRatio <= 0 {
		return
	}
	estimated := contextbudget.EstimateMessagesTokens(messages)
	threshold := int(float64(cfg.ContextWindowTokens) * cfg.ContextWarnRatio)
	logger.Debug("context estimate",
		"threadID", t.id,
		"sessionKey", t.sessionKey,
		"requestEstimatedTokens", estimated,
		"contextWindowTokens", cfg.ContextWindowTokens,
		"contextWarnRatio", cfg.ContextWarnRatio,
	)
	if estimated >= threshold {
		logger.Warn("session history near context window; older messages will be pruned",
			"sessionKey", t.sessionKey,
			"estimatedTokens", estimated,
			"threshold", threshold,
		)
	}
}

func (t *Thread) loadSession() *session.Session {
	cfg := t.cfg()
	if cfg.Sessions == nil {
		return nil
	}
	sess, err := cfg.Sessions.Reload(t.sessionKey)
	if err != nil {
		logger.Warn("failed to load session", "key", t.sessionKey, "err", err)
		return nil
	}
	return sess
}

// appendToSession reloads the session before saving so changes made by
// others in between are not overwritten.
func (t *Thread) appendToSession(msgs ...provider.Message) {
	cfg := t.cfg()
	if cfg.Sessions == nil || len(msgs) == 0 {
		return
	}
	sess, err := cfg.Sessions.Reload(t.sessionKey)
	if err != nil {
		logger.Warn("failed to reload session before save; skipping save", "key", t.sessionKey, "err", err)
		return
	}
	sess.Messages = append(sess.Messages, msgs...)
	if err := cfg.Sessions.Save(sess); err != nil {
		logger.Warn("failed to save session", "key", t.sessionKey, "err", err)
	}
}

// Describe summarizes the thread for listings.
func (t *Thread) Describe() Info {
	t.mu.Lock()
	last := t.lastActiveAt
	t.mu.Unlock()
	info := Info{
		ID:           t.id,
		SessionKey:   t.sessionKey,
		State:        t.machine.Current().String(),
		Pending:      len(t.inbox),
		LastActiveAt: last,
		Cache:        t.cache.Stats(),
	}
	if t.mgr != nil {
		t.mgr.mu.Lock()
		info.Running = t.state == threadRunning
		t.mgr.mu.Unlock()
	}
	return info
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s(%s)", t.id, t.sessionKey)
}
