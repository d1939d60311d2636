package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linanwx/edgeagent/config"
)

func TestExtractReasoningText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"no reasoning", `{"content":"hi"}`, ""},
		{"reasoning_content", `{"content":"hi","reasoning_content":"step 1"}`, "step 1"},
		{"reasoning", `{"reasoning":"step 2"}`, "step 2"},
		{"non string ignored", `{"reasoning":{"tokens":3}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractReasoningText(tt.raw); got != tt.want {
				t.Fatalf("extractReasoningText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeSDKBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", openAIAPIBase},
		{"http://127.0.0.1:11434/v1/", "http://127.0.0.1:11434/v1"},
		{"http://edge.local/v1/chat/completions", "http://edge.local/v1"},
	}
	for _, tt := range tests {
		if got := normalizeSDKBaseURL(tt.in, openAIAPIBase, "/chat/completions"); got != tt.want {
			t.Fatalf("normalizeSDKBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToAnthropicMessagesGroupsToolResults(t *testing.T) {
	msgs := []Message{
		SystemMessage("you control a smart home"),
		UserMessage("turn off the lights"),
		AssistantMessageWithTools("", "", []ToolCall{
			{ID: "t1", Type: "function", Function: FunctionCall{Name: "list_devices", Arguments: `{}`}},
			{ID: "t2", Type: "function", Function: FunctionCall{Name: "list_rules", Arguments: ``}},
		}),
		ToolResultMessage("t1", "list_devices", `{"success":true}`),
		ToolResultMessage("t2", "list_rules", `{"success":true}`),
		AssistantMessage("done"),
	}

	system, out := toAnthropicMessages(msgs)
	if system != "you control a smart home" {
		t.Fatalf("system = %q, want the system prompt", system)
	}
	var roles []string
	for _, m := range out {
		roles = append(roles, string(m.Role))
	}
	want := []string{"user", "assistant", "user", "assistant"}
	if diff := cmp.Diff(want, roles); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
	if n := len(out[2].Content); n != 2 {
		t.Fatalf("tool result turn has %d blocks, want 2", n)
	}
}

func TestToOpenAIChatMessagesKeepsToolCalls(t *testing.T) {
	msgs := []Message{
		UserMessage("status?"),
		AssistantMessageWithTools("checking", "", []ToolCall{
			{ID: "c1", Type: "function", Function: FunctionCall{Name: "query_device", Arguments: `{"device_id":"lamp"}`}},
		}),
		ToolResultMessage("c1", "query_device", `{"on":true}`),
	}
	out := toOpenAIChatMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	asst := out[1].OfAssistant
	if asst == nil || len(asst.ToolCalls) != 1 {
		t.Fatalf("assistant message = %#v, want one tool call", out[1])
	}
	if got := asst.ToolCalls[0].OfFunction.Function.Name; got != "query_device" {
		t.Fatalf("tool call name = %q, want query_device", got)
	}
	if out[2].OfTool == nil || out[2].OfTool.ToolCallID != "c1" {
		t.Fatalf("tool message = %#v, want tool_call_id c1", out[2])
	}
}

func TestOpenAIProviderStreams(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel","reasoning_content":"think "},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo","reasoning_content":"more"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"list_devices","arguments":"{}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q, want chat completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(Settings{APIKey: "k", APIBase: server.URL, ModelName: "m", MaxTokens: 64})

	var streamed strings.Builder
	resp, err := p.Chat(context.Background(), &Request{
		Messages: []Message{UserMessage("hi")},
		OnDelta:  func(d Delta) { streamed.WriteString(d.Content) },
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "Hello" || streamed.String() != "Hello" {
		t.Fatalf("Content = %q streamed = %q, want Hello", resp.Content, streamed.String())
	}
	if resp.ReasoningContent != "think more" {
		t.Fatalf("ReasoningContent = %q, want %q", resp.ReasoningContent, "think more")
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "list_devices" || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("ToolCalls = %#v, want list_devices call_1", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Fatalf("Usage.TotalTokens = %d, want 8", resp.Usage.TotalTokens)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.DefaultConfig()
	if _, err := New(cfg); err == nil {
		t.Fatal("New() error = nil, want missing api key error")
	}

	cfg.Providers.OpenAI = &config.ProviderConfig{APIKey: "sk-test"}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(*OpenAIProvider); !ok {
		t.Fatalf("New() = %T, want *OpenAIProvider", p)
	}

	cfg.Agent.Provider = "nope"
	if _, err := New(cfg); err == nil {
		t.Fatal("New() error = nil, want unknown provider error")
	}
}
