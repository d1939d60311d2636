package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/provider"
	"github.com/linanwx/edgeagent/session"
)

var (
	compactKeepFlag  int
	compactClearFlag bool
)

var compactSessionCmd = &cobra.Command{
	Use:   "compact-session <session-key>",
	Short: "Shrink a stored session by summarizing old tool calls",
	Long: `Replace all but the most recent tool exchanges of a stored session with
one-line summaries and drop tool results whose call is gone.
The original is backed up to <session_dir>/history/.

Use --clear to discard all messages instead.

Example:
  edgeagent compact-session home:kitchen --keep 2
  edgeagent compact-session --clear cli:interactive`,
	Args:    cobra.ExactArgs(1),
	GroupID: "maintenance",
	RunE:    runCompactSession,
}

func init() {
	compactSessionCmd.Flags().IntVar(&compactKeepFlag, "keep", 3, "Tool-calling turns to keep intact")
	compactSessionCmd.Flags().BoolVar(&compactClearFlag, "clear", false, "Clear all messages")
	rootCmd.AddCommand(compactSessionCmd)
}

func runCompactSession(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}
	sessions, err := session.NewManager(workspace)
	if err != nil {
		return err
	}

	key := args[0]
	sessionFile := sessions.PathForKey(key)
	origData, err := os.ReadFile(sessionFile)
	if err != nil {
		return fmt.Errorf("failed to read session file: %w", err)
	}
	var orig session.Session
	if err := json.Unmarshal(origData, &orig); err != nil {
		return fmt.Errorf("failed to parse session file: %w", err)
	}
	if orig.Key == "" {
		orig.Key = key
	}
	origCount := len(orig.Messages)
	origTokens := contextbudget.EstimateMessagesTokens(orig.Messages)

	backupPath, err := backupSession(sessionFile, origData, time.Now())
	if err != nil {
		return err
	}

	if compactClearFlag {
		orig.Messages = []provider.Message{}
	} else {
		orig.Messages = contextbudget.RepairToolPairs(contextbudget.CompactToolResults(orig.Messages, compactKeepFlag))
	}
	if err := sessions.Save(&orig); err != nil {
		return err
	}

	fmt.Printf("Session compacted: %d -> %d messages, ~%d -> ~%d tokens\n",
		origCount, len(orig.Messages), origTokens, contextbudget.EstimateMessagesTokens(orig.Messages))
	fmt.Printf("Backup: %s\n", backupPath)
	fmt.Printf("Session: %s\n", sessionFile)
	return nil
}

func backupSession(sessionFile string, data []byte, now time.Time) (string, error) {
	historyDir := filepath.Join(filepath.Dir(sessionFile), "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create history directory: %w", err)
	}
	timestamp := fmt.Sprintf("%d_%s", now.Unix(), now.Format("20060102T150405-0700"))
	backupPath := filepath.Join(historyDir, timestamp+".json")
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return backupPath, nil
}
