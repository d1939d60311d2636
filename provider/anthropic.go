package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linanwx/edgeagent/logger"
)

const (
	anthropicAPIBase          = "https://api.anthropic.com"
	anthropicDefaultMaxTokens = 4096
)

func init() {
	RegisterProvider("anthropic", ProviderRegistration{
		DefaultBase: anthropicAPIBase,
		EnvBase:     "ANTHROPIC_API_BASE",
		Constructor: func(s Settings) Provider { return NewAnthropicProvider(s) },
	})
}

// AnthropicProvider implements Provider with the Messages streaming API.
type AnthropicProvider struct {
	modelName   string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

// NewAnthropicProvider creates a streaming Messages API provider.
func NewAnthropicProvider(s Settings) *AnthropicProvider {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(s.APIKey),
		anthropicoption.WithMaxRetries(sdkMaxRetries),
	}
	if base := normalizeSDKBaseURL(s.APIBase, anthropicAPIBase, "/v1/messages"); base != "" {
		opts = append(opts, anthropicoption.WithBaseURL(base))
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return &AnthropicProvider{
		modelName:   s.ModelName,
		maxTokens:   maxTokens,
		temperature: s.Temperature,
		client:      anthropic.NewClient(opts...),
	}
}

// Chat streams a message and accumulates the final response.
func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	system, messages := toAnthropicMessages(req.Messages)
	logger.Info(
		"anthropic request",
		"provider", "anthropic",
		"modelName", p.modelName,
		"messageCount", len(messages),
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelName),
		MaxTokens: int64(p.maxTokens),
		Messages:  messages,
		Tools:     toAnthropicTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.temperature > 0 && p.temperature <= 1 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				req.emit(Delta{Content: d.Text})
			case anthropic.ThinkingDelta:
				req.emit(Delta{Reasoning: d.Thinking})
			}
		}
	}
	if err := stream.Err(); err != nil {
		logger.Error("anthropic request error", "provider", "anthropic", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var content, reasoning strings.Builder
	var toolCalls []ToolCall
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(b.Thinking)
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: FunctionCall{Name: b.Name, Arguments: args},
			})
		}
	}

	logger.Info(
		"anthropic response",
		"provider", "anthropic",
		"modelName", p.modelName,
		"stopReason", message.StopReason,
		"toolCallCount", len(toolCalls),
		"inputTokens", message.Usage.InputTokens,
		"outputTokens", message.Usage.OutputTokens,
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:          content.String(),
		ReasoningContent: reasoning.String(),
		ToolCalls:        toolCalls,
		Usage: Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// toAnthropicMessages lifts system messages into the system prompt and merges
// consecutive tool results into one user turn as the API requires.
func toAnthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case RoleUser:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
					input = json.RawMessage(raw)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flushResults()
	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(defs []ToolDef) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: d.Function.Parameters["properties"],
		}
		if req, ok := d.Function.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		tool := &anthropic.ToolParam{
			Name:        d.Function.Name,
			InputSchema: schema,
		}
		if d.Function.Description != "" {
			tool.Description = anthropic.String(d.Function.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}
