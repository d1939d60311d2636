// Package contextbudget decides which conversation messages fit into the
// token budget of the next model call.
//
// Token counts are estimated with a fixed character-weight heuristic so
// that budget decisions are deterministic and independent of the model's
// real tokenizer.
package contextbudget

import (
	"math"
	"strings"

	"github.com/linanwx/edgeagent/provider"
)

// Character weights of the token heuristic.
const (
	cjkWeight    = 1.8
	letterWeight = 0.25
	digitWeight  = 0.3
	otherWeight  = 0.5
	overhead     = 1.1

	// toolCallOverhead is charged per tool call on top of its arguments.
	toolCallOverhead = 10
)

// EstimateTokens estimates the token cost of text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var sum float64
	for _, line := range strings.Split(text, "\n") {
		sum += lineWeight(line)
	}
	return int(math.Ceil(sum * overhead))
}

func lineWeight(line string) float64 {
	var w float64
	for _, r := range line {
		switch {
		case isCJK(r):
			w += cjkWeight
		case r < 0x80 && ('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z'):
			w += letterWeight
		case '0' <= r && r <= '9':
			w += digitWeight
		default:
			w += otherWeight
		}
	}
	return w
}

// isCJK covers CJK ideographs, compatibility ideographs, fullwidth forms
// and the Japanese kana blocks.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF,
		r >= 0x3400 && r <= 0x4DBF,
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0xFF00 && r <= 0xFFEF,
		r >= 0x3040 && r <= 0x309F,
		r >= 0x30A0 && r <= 0x30FF:
		return true
	}
	return false
}

// EstimateMessageTokens estimates the cost of one message: content,
// reasoning, and every tool call with its arguments.
func EstimateMessageTokens(m provider.Message) int {
	n := EstimateTokens(m.Content)
	if m.ReasoningContent != "" {
		n += EstimateTokens(m.ReasoningContent)
	}
	for _, tc := range m.ToolCalls {
		n += toolCallOverhead + EstimateTokens(tc.Function.Arguments)
	}
	return n
}

// EstimateMessagesTokens sums EstimateMessageTokens over msgs.
func EstimateMessagesTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}
