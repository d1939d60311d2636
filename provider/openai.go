package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"

	"github.com/linanwx/edgeagent/logger"
)

const (
	openAIAPIBase = "https://api.openai.com/v1"
	sdkMaxRetries = 2
)

func init() {
	RegisterProvider("openai", ProviderRegistration{
		DefaultBase: openAIAPIBase,
		EnvBase:     "OPENAI_API_BASE",
		Constructor: func(s Settings) Provider { return NewOpenAIProvider(s) },
	})
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including local edge runtimes such as Ollama or llama.cpp servers.
type OpenAIProvider struct {
	apiBase     string
	modelName   string
	maxTokens   int
	temperature float64
	client      openai.Client
}

// NewOpenAIProvider creates a streaming chat completions provider.
func NewOpenAIProvider(s Settings) *OpenAIProvider {
	baseURL := normalizeSDKBaseURL(s.APIBase, openAIAPIBase, "/chat/completions")
	client := openai.NewClient(
		oaioption.WithAPIKey(s.APIKey),
		oaioption.WithBaseURL(baseURL),
		oaioption.WithMaxRetries(sdkMaxRetries),
	)
	return &OpenAIProvider{
		apiBase:     baseURL,
		modelName:   s.ModelName,
		maxTokens:   s.MaxTokens,
		temperature: s.Temperature,
		client:      client,
	}
}

// Chat streams a chat completion and accumulates the final response.
func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	logger.Info(
		"openai request",
		"provider", "openai",
		"modelName", p.modelName,
		"messageCount", len(req.Messages),
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	chatReq := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.modelName),
		Messages: toOpenAIChatMessages(req.Messages),
		Tools:    toOpenAIChatTools(req.Tools),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if p.temperature != 0 {
		chatReq.Temperature = openai.Float(p.temperature)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, chatReq)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var reasoning strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		r := extractReasoningText(delta.RawJSON())
		reasoning.WriteString(r)
		req.emit(Delta{Content: delta.Content, Reasoning: r})
	}
	if err := stream.Err(); err != nil {
		logger.Error("openai request error", "provider", "openai", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if len(acc.Choices) == 0 {
		logger.Error("openai no choices", "provider", "openai")
		return nil, fmt.Errorf("no choices in response")
	}

	choice := acc.Choices[0]
	toolCalls := fromOpenAIChatToolCalls(choice.Message.ToolCalls)

	logger.Info(
		"openai response",
		"provider", "openai",
		"modelName", p.modelName,
		"finishReason", choice.FinishReason,
		"toolCallCount", len(toolCalls),
		"promptTokens", acc.Usage.PromptTokens,
		"completionTokens", acc.Usage.CompletionTokens,
		"outputChars", len(choice.Message.Content),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:          choice.Message.Content,
		ReasoningContent: reasoning.String(),
		ToolCalls:        toolCalls,
		Usage: Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}

func toOpenAIChatMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func toOpenAIChatTools(defs []ToolDef) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		fn := shared.FunctionDefinitionParam{
			Name:       d.Function.Name,
			Parameters: shared.FunctionParameters(d.Function.Parameters),
		}
		if d.Function.Description != "" {
			fn.Description = openai.String(d.Function.Description)
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

func fromOpenAIChatToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Function.Name == "" {
			continue
		}
		out = append(out, ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			},
		})
	}
	return out
}

// extractReasoningText reads reasoning from a raw message or delta. Servers
// disagree on the field name.
func extractReasoningText(raw string) string {
	if raw == "" {
		return ""
	}
	for _, path := range []string{"reasoning_content", "reasoning"} {
		if v := gjson.Get(raw, path); v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// normalizeSDKBaseURL strips an endpoint suffix users sometimes paste into apiBase.
func normalizeSDKBaseURL(apiBase, defaultBase, endpoint string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = defaultBase
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, endpoint)
	return strings.TrimRight(base, "/")
}

func inputChars(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content) + len(m.ReasoningContent)
		for _, tc := range m.ToolCalls {
			n += len(tc.Function.Arguments)
		}
	}
	return n
}
