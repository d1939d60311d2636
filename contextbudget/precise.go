package contextbudget

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/linanwx/edgeagent/provider"
)

// PreciseCounter counts tokens with a real BPE vocabulary. It is used for
// diagnostics next to the heuristic, never for budget decisions.
type PreciseCounter struct {
	codec tokenizer.Codec
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     *PreciseCounter
	defaultCounterErr  error
)

// NewPreciseCounter loads the cl100k_base encoding.
func NewPreciseCounter() (*PreciseCounter, error) {
	defaultCounterOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			defaultCounterErr = fmt.Errorf("load tokenizer: %w", err)
			return
		}
		defaultCounter = &PreciseCounter{codec: codec}
	})
	return defaultCounter, defaultCounterErr
}

// Count returns the number of BPE tokens in text.
func (c *PreciseCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	return len(ids), nil
}

// CountMessages sums BPE tokens over message content, reasoning and tool
// call arguments.
func (c *PreciseCounter) CountMessages(msgs []provider.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		for _, text := range []string{m.Content, m.ReasoningContent} {
			n, err := c.Count(text)
			if err != nil {
				return 0, err
			}
			total += n
		}
		for _, tc := range m.ToolCalls {
			n, err := c.Count(tc.Function.Arguments)
			if err != nil {
				return 0, err
			}
			total += toolCallOverhead + n
		}
	}
	return total, nil
}
