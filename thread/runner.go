package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/statemachine"
	"github.com/linanwx/edgeagent/tools"
)

// ErrMaxIterations is returned when the model keeps calling tools past the
// iteration limit.
var ErrMaxIterations = errors.New("max tool iterations reached")

const (
	defaultMaxIterations = 8
	maxToolResultChars   = 8000
	previewChars         = 200
)

// Runner drives one turn through the state machine: select context,
// generate, execute tools, repeat until the model answers.
type Runner struct {
	provider provider.Provider
	tools    *tools.Registry
	machine  *statemachine.Machine
	monitor  statemachine.Monitor
	executor *Executor
	selector contextbudget.Selector

	maxIterations int
	metrics       *ExecMetrics // optional
	onMessage     func(provider.Message)
	onDelta       func(provider.Delta)
}

// NewRunner creates a Runner.
func NewRunner(p provider.Provider, reg *tools.Registry, machine *statemachine.Machine, monitor statemachine.Monitor, executor *Executor, selector contextbudget.Selector) *Runner {
	return &Runner{
		provider:      p,
		tools:         reg,
		machine:       machine,
		monitor:       monitor,
		executor:      executor,
		selector:      selector,
		maxIterations: defaultMaxIterations,
	}
}

// SetMaxIterations bounds the model calls of one turn.
func (r *Runner) SetMaxIterations(n int) {
	if n > 0 {
		r.maxIterations = n
	}
}

// OnMessage registers a callback for every assistant and tool message the
// turn produces, in order.
func (r *Runner) OnMessage(fn func(provider.Message)) { r.onMessage = fn }

// OnDelta registers a callback for streamed model output.
func (r *Runner) OnDelta(fn func(provider.Delta)) { r.onDelta = fn }

func (r *Runner) emit(m provider.Message) {
	if r.onMessage != nil {
		r.onMessage(m)
	}
}

// transition applies ev, logging instead of failing when the machine was
// moved elsewhere, e.g. closed under a running turn.
func (r *Runner) transition(ev statemachine.Event) bool {
	if err := r.machine.Transition(ev); err != nil {
		logger.Warn("state transition rejected", "event", ev.String(), "state", r.machine.Current().String(), "err", err)
		return false
	}
	return true
}

// checkTimeout reports a state that outlived its advisory timeout.
func (r *Runner) checkTimeout() {
	s := r.machine.Current()
	elapsed := r.machine.DurationInState()
	if advice := r.monitor.Advice(s, elapsed); advice != "" {
		logger.Warn("state timeout", "state", s.String(), "elapsed", elapsed.Round(time.Millisecond), "advice", advice)
	}
}

// Run executes the turn over messages and returns the final answer. The
// machine must be Idle.
func (r *Runner) Run(ctx context.Context, messages []provider.Message) (string, error) {
	if err := r.machine.Transition(statemachine.StartProcessing{}); err != nil {
		return "", err
	}
	toolDefs := r.tools.Defs()

	for iter := 0; iter < r.maxIterations; iter++ {
		r.metrics.nextIteration()

		selected := r.selector.Select(messages)
		logger.Debug("context selected",
			"messages", len(messages),
			"selected", len(selected),
			"estimatedTokens", contextbudget.EstimateMessagesTokens(selected),
		)
		r.checkTimeout()

		if !r.transition(statemachine.StartGenerating{}) {
			return "", fmt.Errorf("turn interrupted in state %s", r.machine.Current())
		}
		resp, err := r.generate(ctx, selected, toolDefs)
		r.checkTimeout()
		if err != nil {
			r.transition(statemachine.Fail{Reason: err.Error()})
			return "", fmt.Errorf("provider error: %w", err)
		}

		if !resp.HasToolCalls() {
			r.transition(statemachine.Complete{})
			return resp.Content, nil
		}

		toolCalls := normalizeToolCalls(resp.ToolCalls)
		assistant := provider.AssistantMessageWithTools(resp.Content, resp.ReasoningContent, toolCalls)
		messages = append(messages, assistant)
		r.emit(assistant)

		if !r.transition(statemachine.StartToolExecution{Total: len(toolCalls)}) {
			return "", fmt.Errorf("turn interrupted in state %s", r.machine.Current())
		}
		calls := make([]tools.Call, len(toolCalls))
		for i, tc := range toolCalls {
			calls[i] = tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
		}
		results := r.executor.Execute(ctx, calls, func(res tools.Result) {
			r.transition(statemachine.ToolCompleted{})
			r.metrics.record(recordFor(res))
		})
		r.checkTimeout()

		for _, res := range results {
			msg := provider.ToolResultMessage(res.Call.ID, res.Call.Name, toolResultContent(res))
			messages = append(messages, msg)
			r.emit(msg)
		}

		if err := ctx.Err(); err != nil {
			r.transition(statemachine.Fail{Reason: err.Error()})
			return "", err
		}
	}

	r.transition(statemachine.Fail{Reason: ErrMaxIterations.Error()})
	return "", ErrMaxIterations
}

func (r *Runner) generate(ctx context.Context, msgs []provider.Message, defs []provider.ToolDef) (*provider.Response, error) {
	chars := 0
	return r.provider.Chat(ctx, &provider.Request{
		Messages: msgs,
		Tools:    defs,
		OnDelta: func(d provider.Delta) {
			chars += utf8.RuneCountInString(d.Content) + utf8.RuneCountInString(d.Reasoning)
			r.transition(statemachine.GeneratingProgress{Chars: chars})
			if r.onDelta != nil {
				r.onDelta(d)
			}
		},
	})
}

// normalizeToolCalls fills missing or repeated call IDs so results can be
// matched to calls.
func normalizeToolCalls(calls []provider.ToolCall) []provider.ToolCall {
	out := make([]provider.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, tc := range calls {
		if strings.TrimSpace(tc.ID) == "" || seen[tc.ID] {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		seen[tc.ID] = true
		out[i] = tc
	}
	return out
}

// toolResultContent renders a result as the JSON the model sees.
func toolResultContent(res tools.Result) string {
	out := res.Output
	if res.Err != nil {
		out = tools.Failed(res.Err.Error())
	}
	raw, err := json.Marshal(out)
	if err != nil {
		raw = []byte(`{"success":false}`)
		raw, _ = sjson.SetBytes(raw, "error", err.Error())
	}
	if res.Cached {
		raw, _ = sjson.SetBytes(raw, "cached", true)
	}
	if res.Attempts > 1 {
		raw, _ = sjson.SetBytes(raw, "attempts", res.Attempts)
	}
	content, truncated := tools.TruncateWithNotice(string(raw), maxToolResultChars)
	if truncated {
		logger.Debug("tool result truncated", "tool", res.Call.Name, "chars", len(raw))
	}
	return content
}

func recordFor(res tools.Result) ToolCallRecord {
	return ToolCallRecord{
		Name:          res.Call.Name,
		ArgsSummary:   truncateStr(string(res.Call.Arguments), previewChars),
		ResultPreview: truncateStr(string(res.Output.Data)+res.Output.Error, previewChars),
		DurationMs:    res.Duration.Milliseconds(),
		Cached:        res.Cached,
		Attempts:      res.Attempts,
		Error:         !res.Succeeded(),
	}
}

// truncateStr returns at most the first n bytes of s without splitting a
// rune, appending "..." if truncated.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
