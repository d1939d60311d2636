// Package provider defines the LLM provider interface and common types.
package provider

import (
	"context"
	"sort"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a chat completion request.
type Request struct {
	Messages []Message
	Tools    []ToolDef

	// OnDelta, when set, receives streamed text as it arrives.
	OnDelta func(Delta)
}

// Delta is one streamed fragment of a response.
type Delta struct {
	Content   string
	Reasoning string
}

func (r *Request) emit(d Delta) {
	if r.OnDelta != nil && (d.Content != "" || d.Reasoning != "") {
		r.OnDelta(d)
	}
}

// Message represents a chat message in OpenAI format (internal canonical format).
type Message struct {
	Role             string     `json:"role"`                        // system, user, assistant, tool
	Content          string     `json:"content,omitempty"`           // text content
	ReasoningContent string     `json:"reasoning_content,omitempty"` // reasoning text for providers that require it
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`        // for assistant messages
	ToolCallID       string     `json:"tool_call_id,omitempty"`      // for tool result messages
	Name             string     `json:"name,omitempty"`              // tool name for tool results
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a function call within a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Response represents a chat completion response.
type Response struct {
	Content          string     // final text response
	ReasoningContent string     // reasoning text (provider-specific)
	ToolCalls        []ToolCall // tool calls (if any)
	Usage            Usage      // token usage
}

// HasToolCalls returns true if the response contains tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolDef defines a tool for the LLM (OpenAI function calling format).
type ToolDef struct {
	Type     string      `json:"type"` // "function"
	Function FunctionDef `json:"function"`
}

// FunctionDef defines a function that the model can call.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Settings carries what a provider constructor needs.
type Settings struct {
	APIKey      string
	APIBase     string
	ModelName   string
	MaxTokens   int
	Temperature float64
}

// ProviderConstructor builds a provider from resolved settings.
type ProviderConstructor func(Settings) Provider

// ProviderRegistration defines metadata and constructor for a provider.
type ProviderRegistration struct {
	DefaultBase string
	EnvBase     string
	Constructor ProviderConstructor
}

var providerRegistry = map[string]ProviderRegistration{}

// RegisterProvider registers provider metadata and constructor.
func RegisterProvider(name string, reg ProviderRegistration) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || reg.Constructor == nil {
		return
	}
	reg.DefaultBase = strings.TrimSpace(reg.DefaultBase)
	reg.EnvBase = strings.TrimSpace(reg.EnvBase)
	providerRegistry[name] = reg
}

// SupportedProviders returns all supported provider names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantMessageWithTools creates an assistant message with tool calls.
func AssistantMessageWithTools(content, reasoningContent string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ReasoningContent: reasoningContent, ToolCalls: toolCalls}
}

// ToolResultMessage creates a tool result message.
func ToolResultMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Name: name, Content: content}
}
