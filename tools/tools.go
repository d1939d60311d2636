// Package tools provides the tool interface, the registry and built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linanwx/edgeagent/provider"
)

// ErrUnknownTool is returned by Registry.Execute for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Call is one tool invocation proposed by the model.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Output is what a tool hands back to the model.
type Output struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK wraps data in a successful Output.
func OK(data any) Output {
	raw, err := json.Marshal(data)
	if err != nil {
		return Failed(fmt.Sprintf("encode result: %v", err))
	}
	return Output{Success: true, Data: raw}
}

// Failed builds an unsuccessful Output.
func Failed(msg string) Output {
	return Output{Success: false, Error: msg}
}

// Result is the outcome of executing one Call.
type Result struct {
	Call     Call
	Output   Output
	Err      error
	Cached   bool
	Attempts int
	Duration time.Duration
}

// Succeeded reports whether the call ran and the tool reported success.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.Output.Success
}

// Relationships are per-tool scheduling hints. Names refer to other tools.
type Relationships struct {
	CallAfter     []string `json:"call_after,omitempty" yaml:"call_after,omitempty"`
	OutputTo      []string `json:"output_to,omitempty" yaml:"output_to,omitempty"`
	ExclusiveWith []string `json:"exclusive_with,omitempty" yaml:"exclusive_with,omitempty"`
}

// Meta is static per-tool metadata used by the orchestrator.
type Meta struct {
	Relationships Relationships
	// SideEffects marks state-changing tools. Their results are never cached.
	SideEffects bool
	// Invalidates lists tools whose cached results become stale after a
	// successful call.
	Invalidates []string
}

// Tool is the interface for agent tools.
type Tool interface {
	// Def returns the tool definition for the LLM.
	Def() provider.ToolDef
	// Run executes the tool. Domain failures are reported through
	// Output; the error is reserved for execution failures.
	Run(ctx context.Context, args json.RawMessage) (Output, error)
}

// MetaTool is implemented by tools that declare scheduling metadata.
type MetaTool interface {
	Tool
	Meta() Meta
}

// Registry holds registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Def().Function.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns all tool definitions sorted by name.
func (r *Registry) Defs() []provider.ToolDef {
	names := r.Names()
	defs := make([]provider.ToolDef, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			defs = append(defs, t.Def())
		}
	}
	return defs
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Output, error) {
	t, ok := r.Get(name)
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return t.Run(ctx, args)
}

// Meta returns the metadata of a registered tool. Tools without declared
// metadata report the zero Meta.
func (r *Registry) Meta(name string) (Meta, bool) {
	t, ok := r.Get(name)
	if !ok {
		return Meta{}, false
	}
	if mt, ok := t.(MetaTool); ok {
		return mt.Meta(), true
	}
	return Meta{}, true
}

// Relationships returns the scheduling hints of a registered tool.
func (r *Registry) Relationships(name string) (Relationships, bool) {
	m, ok := r.Meta(name)
	return m.Relationships, ok
}

// Cacheable reports whether results of the named tool may be cached.
// Unknown tools are not cacheable.
func (r *Registry) Cacheable(name string) bool {
	m, ok := r.Meta(name)
	return ok && !m.SideEffects
}

// Invalidates returns the tools whose cached results a successful call of
// name makes stale.
func (r *Registry) Invalidates(name string) []string {
	m, _ := r.Meta(name)
	return m.Invalidates
}

// parseArgs decodes tool arguments, returning an Output describing the
// failure when they do not match.
func parseArgs(args json.RawMessage, dst any) (Output, bool) {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return Failed(fmt.Sprintf("invalid arguments: %v", err)), false
	}
	return Output{}, true
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
