package health

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/linanwx/edgeagent/contextbudget"
	"github.com/linanwx/edgeagent/provider"
)

// SessionsInfo summarizes the session store.
type SessionsInfo struct {
	Root        string        `json:"root"`
	Count       int           `json:"count"`
	ParseErrors int           `json:"parse_errors"`
	Sessions    []SessionInfo `json:"sessions,omitempty"`
}

// SessionInfo describes one stored session file.
type SessionInfo struct {
	Key             string `json:"key"`
	Path            string `json:"path"`
	FileSizeBytes   int64  `json:"file_size_bytes"`
	MessagesCount   int    `json:"messages_count"`
	ToolMessages    int    `json:"tool_messages"`
	EstimatedTokens int    `json:"estimated_tokens"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	ParseError      string `json:"parse_error,omitempty"`
}

func inspectSessions(root string) *SessionsInfo {
	info := &SessionsInfo{Root: root}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		// Backups written by compact-session are not live sessions.
		if d.IsDir() && d.Name() == "history" {
			return filepath.SkipDir
		}
		if d.IsDir() || d.Name() != "session.json" {
			return nil
		}
		si := inspectSessionFile(path)
		if rel, err := filepath.Rel(root, path); err == nil {
			si.Path = rel
			si.Key = strings.ReplaceAll(filepath.ToSlash(filepath.Dir(rel)), "/", ":")
		}
		if si.ParseError != "" {
			info.ParseErrors++
		}
		info.Sessions = append(info.Sessions, si)
		return nil
	})
	sort.Slice(info.Sessions, func(i, j int) bool { return info.Sessions[i].Path < info.Sessions[j].Path })
	info.Count = len(info.Sessions)
	return info
}

func inspectSessionFile(path string) SessionInfo {
	info := SessionInfo{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		info.ParseError = err.Error()
		return info
	}
	info.FileSizeBytes = int64(len(data))
	if stat, err := os.Stat(path); err == nil {
		info.UpdatedAt = stat.ModTime().Format(time.RFC3339)
	}

	var payload struct {
		Messages  []provider.Message `json:"messages"`
		UpdatedAt string             `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		info.ParseError = err.Error()
		return info
	}

	info.MessagesCount = len(payload.Messages)
	for _, m := range payload.Messages {
		if m.Role == provider.RoleTool {
			info.ToolMessages++
		}
	}
	info.EstimatedTokens = contextbudget.EstimateMessagesTokens(payload.Messages)
	if ts := strings.TrimSpace(payload.UpdatedAt); ts != "" {
		info.UpdatedAt = ts
	}
	return info
}
