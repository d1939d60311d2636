package thread

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SystemPromptFile in the workspace replaces DefaultSystemPrompt.
const SystemPromptFile = "SYSTEM.md"

const DefaultSystemPrompt = `You are the assistant of an edge smart-home hub.
You control devices and automation rules only through the provided tools.
Look devices up before controlling them, and report failures plainly.`

func buildSystemPrompt(cfg *ThreadConfig, toolNames []string, now time.Time) string {
	base := strings.TrimSpace(cfg.SystemPrompt)
	if base == "" && cfg.Workspace != "" {
		if data, err := os.ReadFile(filepath.Join(cfg.Workspace, SystemPromptFile)); err == nil {
			base = strings.TrimSpace(string(data))
		}
	}
	if base == "" {
		base = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\n## Runtime\n\nTime: %s (%s)\n", now.Format(time.RFC3339), now.Weekday())
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "Tools: %s\n", strings.Join(toolNames, ", "))
	}
	return b.String()
}
