package contextbudget

import (
	"strings"

	"github.com/linanwx/edgeagent/provider"
)

const (
	baseImportance    = 0.5
	recencyWeight     = 0.25
	errorBonus        = 0.15
	toolCallBonus     = 0.1
	reasoningBonus    = 0.05
	systemRoleBonus   = 0.3
	userRoleBonus     = 0.2
	toolRolePenalty   = -0.1
	assistantRoleBias = 0.0
)

// Messages mentioning failures are worth keeping. Both sets are matched
// against lowercased content.
var (
	localizedErrorKeywords = []string{"错误", "失败"}
	englishErrorKeywords   = []string{"error", "fail"}
)

// MessageImportance scores a message in [0, 1] from its recency (position
// out of total), its role and content signals.
func MessageImportance(m provider.Message, position, total int) float64 {
	score := baseImportance
	if total > 0 {
		score += float64(position) / float64(total) * recencyWeight
	}

	switch m.Role {
	case provider.RoleSystem:
		score += systemRoleBonus
	case provider.RoleUser:
		score += userRoleBonus
	case provider.RoleAssistant:
		score += assistantRoleBias
	case provider.RoleTool:
		score += toolRolePenalty
	}

	if mentionsFailure(m.Content) {
		score += errorBonus
	}
	if len(m.ToolCalls) > 0 {
		score += toolCallBonus
	}
	if strings.TrimSpace(m.ReasoningContent) != "" {
		score += reasoningBonus
	}

	return min(max(score, 0), 1)
}

func mentionsFailure(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, set := range [][]string{localizedErrorKeywords, englishErrorKeywords} {
		for _, kw := range set {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
