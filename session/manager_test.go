package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linanwx/edgeagent/provider"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestManagerKeepsToolExchanges(t *testing.T) {
	mgr := newTestManager(t)

	calls := []provider.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: provider.FunctionCall{Name: "control_device", Arguments: `{"device_id":"lamp","on":true}`},
	}}
	want := []provider.Message{
		provider.UserMessage("turn the lamp on"),
		provider.AssistantMessageWithTools("", "", calls),
		provider.ToolResultMessage("call_1", "control_device", `{"success":true}`),
		provider.AssistantMessage("The lamp is on."),
	}
	created := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	if err := mgr.Save(&Session{Key: "home:living", Messages: want, CreatedAt: created}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := mgr.Reload("home:living")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if diff := cmp.Diff(want, got.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if !got.CreatedAt.Equal(created) || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps = created %v, updated %v", got.CreatedAt, got.UpdatedAt)
	}
	if _, err := os.Stat(mgr.PathForKey("home:living") + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestManagerPathForKey(t *testing.T) {
	mgr := newTestManager(t)
	tests := []struct {
		key  string
		want []string
	}{
		{"   ", []string{"main"}},
		{"home:kitchen", []string{"home", "kitchen"}},
		{" parent : ../bad?? : child ", []string{"parent", "bad", "child"}},
	}
	for _, tt := range tests {
		got := mgr.PathForKey(tt.key)
		suffix := filepath.Join(append(append([]string{"sessions"}, tt.want...), "session.json")...)
		if !strings.HasSuffix(got, suffix) || strings.Contains(got, "..") {
			t.Fatalf("PathForKey(%q) = %q, want suffix %q", tt.key, got, suffix)
		}
	}
}

func TestManagerGetUsesCache(t *testing.T) {
	mgr := newTestManager(t)
	first, err := mgr.Get("cli:interactive")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, _ := mgr.Get("cli:interactive")
	if first != second {
		t.Fatal("Get() returned a different session for the same key")
	}
}

func TestManagerReloadMissingIsEmpty(t *testing.T) {
	mgr := newTestManager(t)
	got, err := mgr.Reload("home:kitchen")
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got.Key != "home:kitchen" || len(got.Messages) != 0 {
		t.Fatalf("Reload() = %+v, want empty session for key", got)
	}
}

func TestManagerKeysAndDelete(t *testing.T) {
	mgr := newTestManager(t)
	for _, key := range []string{"home:kitchen", "cli"} {
		if err := mgr.Save(&Session{Key: key}); err != nil {
			t.Fatalf("Save(%q) error = %v", key, err)
		}
	}

	keys, err := mgr.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if strings.Join(keys, ",") != "cli,home:kitchen" {
		t.Fatalf("Keys() = %v, want [cli home:kitchen]", keys)
	}

	if err := mgr.Delete("home:kitchen"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(mgr.PathForKey("home:kitchen")); !os.IsNotExist(err) {
		t.Fatalf("session file still present after Delete(): %v", err)
	}
	if err := mgr.Delete("home:kitchen"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}

func TestManagerRejectsCorruptFile(t *testing.T) {
	mgr := newTestManager(t)
	path := mgr.PathForKey("broken")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reload("broken"); err == nil {
		t.Fatal("Reload() error = nil, want decode error")
	}
}
