package contextbudget

import (
	"sort"

	"github.com/linanwx/edgeagent/provider"
)

// Defaults used when a Selector field is left zero.
const (
	DefaultMaxTokens           = 8000
	DefaultMinMessages         = 4
	DefaultImportanceThreshold = 0.15
	DefaultKeepToolResults     = 2
)

// SelectWithinLimit keeps the most recent minMessages unconditionally, then
// walks older messages from newest to oldest while they fit in maxTokens,
// stopping at the first one that does not. The result is chronological.
func SelectWithinLimit(msgs []provider.Message, maxTokens, minMessages int) []provider.Message {
	n := len(msgs)
	if n == 0 {
		return nil
	}
	recentStart := max(n-max(minMessages, 0), 0)

	used := 0
	for _, m := range msgs[recentStart:] {
		used += EstimateMessageTokens(m)
	}

	start := recentStart
	for i := recentStart - 1; i >= 0; i-- {
		cost := EstimateMessageTokens(msgs[i])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	return append([]provider.Message(nil), msgs[start:]...)
}

// SelectWithImportance returns msgs unchanged when they fit in maxTokens.
// Otherwise it keeps the most recent minMessages, drops older messages
// scoring below threshold, and fills the remaining budget with the highest
// scoring (then most recent) ones, skipping any that do not fit. The result
// is chronological.
func SelectWithImportance(msgs []provider.Message, maxTokens, minMessages int, threshold float64) []provider.Message {
	n := len(msgs)
	if n == 0 {
		return nil
	}
	if EstimateMessagesTokens(msgs) <= maxTokens {
		return append([]provider.Message(nil), msgs...)
	}

	recentStart := max(n-max(minMessages, 0), 0)
	keep := make([]bool, n)
	used := 0
	for i := recentStart; i < n; i++ {
		keep[i] = true
		used += EstimateMessageTokens(msgs[i])
	}

	type candidate struct {
		pos        int
		importance float64
		cost       int
	}
	candidates := make([]candidate, 0, recentStart)
	for i := 0; i < recentStart; i++ {
		imp := MessageImportance(msgs[i], i, n)
		if imp < threshold {
			continue
		}
		candidates = append(candidates, candidate{pos: i, importance: imp, cost: EstimateMessageTokens(msgs[i])})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].importance != candidates[b].importance {
			return candidates[a].importance > candidates[b].importance
		}
		return candidates[a].pos > candidates[b].pos
	})

	for _, c := range candidates {
		if used+c.cost > maxTokens {
			continue
		}
		used += c.cost
		keep[c.pos] = true
	}

	out := make([]provider.Message, 0, n-recentStart+len(candidates))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// Selector bundles the selection settings of one session.
type Selector struct {
	MaxTokens           int
	MinMessages         int
	// ImportanceThreshold is clamped to [0,1]; 0 disables filtering.
	ImportanceThreshold float64
	// KeepToolResults is how many recent tool-calling assistant messages
	// keep their full tool results.
	KeepToolResults int
}

// DefaultSelector returns a Selector with the default settings.
func DefaultSelector() Selector {
	return Selector{
		MaxTokens:           DefaultMaxTokens,
		MinMessages:         DefaultMinMessages,
		ImportanceThreshold: DefaultImportanceThreshold,
		KeepToolResults:     DefaultKeepToolResults,
	}
}

// Select prepares msgs for a model call. A leading system message is pinned
// and charged against the budget; the rest is compacted, filtered by
// SelectWithImportance and repaired so every tool result has its call.
func (s Selector) Select(msgs []provider.Message) []provider.Message {
	s = s.withDefaults()
	if len(msgs) == 0 {
		return nil
	}

	var pinned []provider.Message
	history := msgs
	budget := s.MaxTokens
	if msgs[0].Role == provider.RoleSystem {
		pinned = msgs[:1]
		history = msgs[1:]
		budget -= EstimateMessageTokens(msgs[0])
	}

	history = CompactToolResults(history, s.KeepToolResults)
	history = SelectWithImportance(history, max(budget, 0), s.MinMessages, s.ImportanceThreshold)
	history = RepairToolPairs(history)

	out := make([]provider.Message, 0, len(pinned)+len(history))
	out = append(out, pinned...)
	return append(out, history...)
}

func (s Selector) withDefaults() Selector {
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.MinMessages <= 0 {
		s.MinMessages = DefaultMinMessages
	}
	s.ImportanceThreshold = min(max(s.ImportanceThreshold, 0), 1)
	if s.KeepToolResults <= 0 {
		s.KeepToolResults = DefaultKeepToolResults
	}
	return s
}
