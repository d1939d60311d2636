package contextbudget

import (
	"strings"

	"github.com/linanwx/edgeagent/provider"
)

// CompactToolResults keeps the keep most recent tool-calling assistant
// messages intact. Older ones lose their tool calls and results and get a
// one-line summary of the tools they used instead.
func CompactToolResults(msgs []provider.Message, keep int) []provider.Message {
	callers := make([]int, 0)
	for i, m := range msgs {
		if m.Role == provider.RoleAssistant && len(m.ToolCalls) > 0 {
			callers = append(callers, i)
		}
	}
	if len(callers) <= keep {
		return append([]provider.Message(nil), msgs...)
	}

	compacted := make(map[int]bool)
	dropIDs := make(map[string]bool)
	for _, i := range callers[:len(callers)-max(keep, 0)] {
		compacted[i] = true
		for _, tc := range msgs[i].ToolCalls {
			dropIDs[tc.ID] = true
		}
	}

	out := make([]provider.Message, 0, len(msgs))
	for i, m := range msgs {
		switch {
		case compacted[i]:
			out = append(out, summarizeToolCalls(m))
		case m.Role == provider.RoleTool && dropIDs[m.ToolCallID]:
			continue
		default:
			out = append(out, m)
		}
	}
	return out
}

func summarizeToolCalls(m provider.Message) provider.Message {
	names := make([]string, 0, len(m.ToolCalls))
	seen := make(map[string]bool)
	for _, tc := range m.ToolCalls {
		if seen[tc.Function.Name] {
			continue
		}
		seen[tc.Function.Name] = true
		names = append(names, tc.Function.Name)
	}
	summary := "[earlier tool calls: " + strings.Join(names, ", ") + "]"
	content := strings.TrimSpace(m.Content)
	if content != "" {
		summary = content + "\n" + summary
	}
	return provider.Message{Role: provider.RoleAssistant, Content: summary}
}

// RepairToolPairs drops tool results whose call is missing and strips tool
// calls whose result is missing, so providers accept the history.
// Assistant messages left with nothing to say are dropped.
func RepairToolPairs(msgs []provider.Message) []provider.Message {
	calls := make(map[string]bool)
	results := make(map[string]bool)
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleAssistant:
			for _, tc := range m.ToolCalls {
				calls[tc.ID] = true
			}
		case provider.RoleTool:
			results[m.ToolCallID] = true
		}
	}

	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleTool:
			if !calls[m.ToolCallID] {
				continue
			}
		case provider.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				break
			}
			kept := make([]provider.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				if results[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == len(m.ToolCalls) {
				break
			}
			if len(kept) == 0 {
				if strings.TrimSpace(m.Content) == "" {
					continue
				}
				kept = nil
			}
			m.ToolCalls = kept
		}
		out = append(out, m)
	}
	return out
}
