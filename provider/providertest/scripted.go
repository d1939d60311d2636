// Package providertest provides deterministic providers for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/linanwx/edgeagent/provider"
)

// Step configures one Chat call in a scripted sequence.
type Step struct {
	Response provider.Response
	Err      error
}

// Scripted replays a fixed sequence of responses and records requests.
type Scripted struct {
	mu       sync.Mutex
	index    int
	steps    []Step
	requests []provider.Request
}

// NewScripted creates a provider that answers with steps in order.
func NewScripted(steps ...Step) *Scripted {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	return &Scripted{steps: cloned}
}

var _ provider.Provider = (*Scripted)(nil)

// Chat returns the next scripted response. Content is streamed through
// OnDelta in one piece.
func (s *Scripted) Chat(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]provider.Message(nil), req.Messages...)
	s.requests = append(s.requests, snapshot)
	if s.index >= len(s.steps) {
		s.mu.Unlock()
		return nil, fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	step := s.steps[s.index]
	s.index++
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	resp := step.Response
	if req.OnDelta != nil && resp.Content != "" {
		req.OnDelta(provider.Delta{Content: resp.Content})
	}
	return &resp, nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ToolCallResponse builds an assistant response that requests the given calls.
func ToolCallResponse(calls ...provider.ToolCall) provider.Response {
	for i := range calls {
		if calls[i].Type == "" {
			calls[i].Type = "function"
		}
	}
	return provider.Response{ToolCalls: calls}
}

// Call is shorthand for a function tool call.
func Call(id, name, args string) provider.ToolCall {
	return provider.ToolCall{ID: id, Type: "function", Function: provider.FunctionCall{Name: name, Arguments: args}}
}
